// Package transport provides HTTP request/response types for the run history.
package transport

import (
	"time"

	"github.com/pendergraft/codeproof/internal/runs/domain"
)

// RunListResponse is the response for listing runs.
type RunListResponse struct {
	Data       []RunItem  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// RunItem is a run in a list.
type RunItem struct {
	ID        string `json:"id"`
	ChainID   string `json:"chainId"`
	Address   string `json:"address"`
	Contract  string `json:"contract"`
	Predeploy bool   `json:"predeploy"`
	Verified  bool   `json:"verified"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor"`
}

// RunResponse is the response for getting a run.
type RunResponse struct {
	RunItem
	Block   int64            `json:"block"`
	Results []ResultResponse `json:"results"`
}

// ResultResponse is one bytecode comparison.
type ResultResponse struct {
	Kind    string `json:"bytecodeType"`
	Match   string `json:"matchType"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toItem(r *domain.Run) RunItem {
	item := RunItem{
		ID:        r.ID,
		ChainID:   r.ChainID,
		Address:   r.Address,
		Contract:  r.Contract,
		Predeploy: r.Predeploy,
		Verified:  r.Verified(),
		Error:     r.Error,
	}
	if !r.CreatedAt.IsZero() {
		item.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	return item
}

func toResponse(r *domain.Run) RunResponse {
	results := make([]ResultResponse, len(r.Results))
	for i, res := range r.Results {
		results[i] = ResultResponse{Kind: res.Kind, Match: res.Match, Message: res.Message}
	}
	return RunResponse{RunItem: toItem(r), Block: r.Block, Results: results}
}
