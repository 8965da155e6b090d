package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// generateID generates a time ordered UUID, so that IDs sort by creation
func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// computeHash computes SHA256 hash of content
func computeHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func encodeResults(results []RunResult) (string, error) {
	if results == nil {
		results = []RunResult{}
	}
	b, err := json.Marshal(results)
	return string(b), err
}

func decodeResults(s string) ([]RunResult, error) {
	var results []RunResult
	if s == "" {
		return results, nil
	}
	err := json.Unmarshal([]byte(s), &results)
	return results, err
}

// normalizeAddress lowercases hex addresses so lookups are case insensitive
func normalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// page trims a result fetched with limit+1 rows and derives the next cursor
func page(runs []Run, limit int) *PaginatedResult[Run] {
	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	var nextCursor string
	if hasMore && len(runs) > 0 {
		nextCursor = runs[len(runs)-1].ID
	}
	return &PaginatedResult[Run]{Data: runs, HasMore: hasMore, NextCursor: nextCursor}
}
