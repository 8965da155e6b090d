// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/codeproof/internal/explorer"
	"github.com/pendergraft/codeproof/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.Request) (*domain.Report, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc     Service
	maxBody int64
	logger  *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// WithLogger sets the logger used for failed runs.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:     svc,
		maxBody: 512 << 10,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/verify", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var body VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	req, err := body.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	report, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		status, code := statusFor(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			h.logger.Error("verification failed", "address", body.Address, "contract", body.Contract, "error", err)
			message = "Failed to verify contract"
		}
		writeError(w, status, code, message)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// statusFor maps a verification error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidBlock),
		errors.Is(err, domain.ErrConstructorArgsMismatch),
		errors.Is(err, domain.ErrInvalidConstructorArgs):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrNoBytecode):
		return http.StatusNotFound, "NO_BYTECODE"
	case errors.Is(err, domain.ErrContractNameMismatch):
		return http.StatusUnprocessableEntity, "CONTRACT_NAME_MISMATCH"
	case errors.Is(err, domain.ErrUnlinkedBytecode):
		return http.StatusUnprocessableEntity, "UNLINKED_BYTECODE"
	case errors.Is(err, domain.ErrUnsupportedCreation):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_CREATION"
	case errors.Is(err, domain.ErrUnsupportedCompiler):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_COMPILER"
	case errors.Is(err, explorer.ErrSourceNotVerified):
		return http.StatusUnprocessableEntity, "SOURCE_NOT_VERIFIED"
	case errors.Is(err, explorer.ErrRateLimited):
		return http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
