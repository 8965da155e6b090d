package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/codeproof/internal/config"
)

// RunStore records verification runs
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error)
}

// ArtifactCache holds compiled artifacts keyed by contract and compiler settings
type ArtifactCache interface {
	GetCachedArtifact(ctx context.Context, key string) ([]byte, error)
	PutCachedArtifact(ctx context.Context, key string, content []byte) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	RunStore
	ArtifactCache

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is a recorded verification run
type Run struct {
	ID        string
	ChainID   string
	Address   string
	Contract  string
	Predeploy bool
	// Block is the block the runtime code was compared at, 0 when no
	// runtime comparison ran.
	Block   int64
	Results []RunResult
	// Error is set when the run aborted before producing results.
	Error     string
	CreatedAt string
}

// RunResult is the outcome of one bytecode comparison
type RunResult struct {
	Kind    string `json:"kind"`
	Match   string `json:"match"`
	Message string `json:"message,omitempty"`
}

// RunFilter contains filter options for listing runs
type RunFilter struct {
	ChainID  string
	Address  string
	Contract string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
