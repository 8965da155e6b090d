package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pendergraft/codeproof/internal/storage"
	"github.com/pendergraft/codeproof/internal/validation"
)

// Common errors returned by the run service.
var (
	ErrNotFound       = errors.New("run not found")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidChainID = errors.New("invalid chain ID")
)

// Store defines the storage operations needed by the run history.
type Store interface {
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Run], error)
}

// Service reads the verification run history.
type Service interface {
	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*Run, error)

	// List lists runs, newest first.
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
}

type service struct {
	store Store
}

// NewService creates a new run service.
func NewService(store Store) Service {
	return &service{store: store}
}

// Get retrieves a run by ID.
func (s *service) Get(ctx context.Context, id string) (*Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return toRun(run), nil
}

// List lists runs with filtering and pagination.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	if filter.Address != "" {
		if err := validation.ValidateAddress(filter.Address); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
	}
	if filter.ChainID != "" {
		id, err := strconv.ParseInt(filter.ChainID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChainID, filter.ChainID)
		}
		if err := validation.ValidateChainID(id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidChainID, err)
		}
	}

	result, err := s.store.ListRuns(ctx, storage.RunFilter{
		ChainID:  filter.ChainID,
		Address:  filter.Address,
		Contract: filter.Contract,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	runs := make([]Run, len(result.Data))
	for i := range result.Data {
		runs[i] = *toRun(&result.Data[i])
	}
	return &ListResult{
		Runs:       runs,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

func toRun(r *storage.Run) *Run {
	var createdAt time.Time
	if r.CreatedAt != "" {
		// both backends store "YYYY-MM-DD HH:MM:SS" in UTC
		createdAt, _ = time.Parse(time.DateTime, r.CreatedAt)
	}
	results := make([]Result, len(r.Results))
	for i, res := range r.Results {
		results[i] = Result{Kind: res.Kind, Match: res.Match, Message: res.Message}
	}
	return &Run{
		ID:        r.ID,
		ChainID:   r.ChainID,
		Address:   r.Address,
		Contract:  r.Contract,
		Predeploy: r.Predeploy,
		Block:     r.Block,
		Results:   results,
		Error:     r.Error,
		CreatedAt: createdAt,
	}
}
