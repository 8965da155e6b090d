package domain

import (
	"context"
	"log/slog"
	"time"
)

// Verifier is the operation exposed to transports.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Report, error)
}

// LoggingMiddleware returns a service middleware that logs every run.
func LoggingMiddleware(logger *slog.Logger) func(Verifier) Verifier {
	return func(next Verifier) Verifier {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Verifier
	logger *slog.Logger
}

func (m *loggingMiddleware) Verify(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	report, err := m.next.Verify(ctx, req)
	attrs := []any{
		"address", req.Address.Hex(),
		"contract", req.Contract.String(),
		"duration", time.Since(start),
	}
	if err != nil {
		m.logger.Warn("Verify", append(attrs, "error", err)...)
		return nil, err
	}
	m.logger.Info("Verify", append(attrs,
		"creation", string(report.Creation),
		"verified", report.Verified(),
		"results", len(report.Results),
	)...)
	return report, nil
}
