// Package domain contains the business logic for the verification run history.
package domain

import (
	"time"
)

// Run is a recorded verification run.
type Run struct {
	ID        string
	ChainID   string
	Address   string
	Contract  string
	Predeploy bool
	Block     int64
	Results   []Result
	Error     string
	CreatedAt time.Time
}

// Verified reports whether the run produced results and all of them matched.
func (r *Run) Verified() bool {
	if r.Error != "" || len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Match != "exact" && res.Match != "partial" {
			return false
		}
	}
	return true
}

// Result is one bytecode comparison of a run.
type Result struct {
	Kind    string
	Match   string
	Message string
}

// ListFilter contains filter options for listing runs.
type ListFilter struct {
	ChainID  string
	Address  string
	Contract string
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult contains paginated list results.
type ListResult struct {
	Runs       []Run
	HasMore    bool
	NextCursor string
}
