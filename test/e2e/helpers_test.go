//go:build e2e

package e2e

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pendergraft/codeproof/internal/chains"
	"github.com/pendergraft/codeproof/internal/config"
	"github.com/pendergraft/codeproof/internal/observability/metrics"
	"github.com/pendergraft/codeproof/internal/server"
	"github.com/pendergraft/codeproof/internal/storage"
	"github.com/pendergraft/codeproof/internal/verification/domain"
	"github.com/pendergraft/codeproof/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testChainID = "31337"

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("codeproof"),
		postgres.WithUsername("codeproof"),
		postgres.WithPassword("codeproof"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// recordingVerifier stands in for the replay pipeline, which needs a live
// node and explorer. Outcomes are keyed by contract name and every run is
// recorded the way the pipeline records it.
type recordingVerifier struct {
	store storage.RunStore
}

func (v *recordingVerifier) Verify(ctx context.Context, req domain.Request) (*domain.Report, error) {
	run := &storage.Run{
		ChainID:  testChainID,
		Address:  req.Address.Hex(),
		Contract: req.Contract.String(),
		Block:    100,
	}

	var results []domain.Result
	var verifyErr error
	switch req.Contract.Name {
	case "Missing":
		verifyErr = fmt.Errorf("fetching code of %s: %w", req.Address.Hex(), domain.ErrNoBytecode)
	case "Mismatch":
		results = []domain.Result{
			{Kind: chains.KindCreation, Match: chains.MatchNone, Message: "local settings differ: optimizer"},
			{Kind: chains.KindRuntime, Match: chains.MatchNone, Message: "skipped because the creation code did not match"},
		}
	case "Genesis":
		run.Predeploy = true
		run.Block = 0
		results = []domain.Result{{Kind: chains.KindRuntime, Match: chains.MatchPartial}}
	default:
		results = []domain.Result{
			{Kind: chains.KindCreation, Match: chains.MatchExact},
			{Kind: chains.KindRuntime, Match: chains.MatchExact},
		}
	}

	for _, r := range results {
		run.Results = append(run.Results, storage.RunResult{Kind: string(r.Kind), Match: string(r.Match), Message: r.Message})
	}
	if verifyErr != nil {
		run.Error = verifyErr.Error()
	}
	if err := v.store.CreateRun(ctx, run); err != nil {
		return nil, errors.Join(verifyErr, err)
	}
	if verifyErr != nil {
		return nil, verifyErr
	}

	return &domain.Report{
		RunID:    run.ID,
		ChainID:  31337,
		Address:  req.Address,
		Contract: req.Contract.String(),
		Creation: domain.CreationCreate,
		Block:    uint64(run.Block),
		Results:  results,
	}, nil
}

// startServerE starts the codeproof server in-process against Postgres
func startServerE(connString string) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			RequestTimeout: 60,
			MaxBodySizeKB:  512,
		},
		Storage: config.StorageConfig{
			Type: "postgres",
			Postgres: config.PostgresConfig{
				URL: connString,
			},
		},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Metrics:   config.MetricsConfig{Enabled: true},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics.Init(cfg.Metrics.Enabled, "codeproof-e2e")

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv := server.New(cfg, &recordingVerifier{store: store}, store, logger)
	return httptest.NewServer(srv.Handler()), store, nil
}

// newClient creates a new API client for the test server
func newClient() *client.Client {
	return client.New(testCtx.TestServer.URL)
}

// uniqueAddress returns a fresh address so tests don't see each other's runs
func uniqueAddress(t *testing.T) string {
	t.Helper()
	b := make([]byte, 20)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(b)
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
