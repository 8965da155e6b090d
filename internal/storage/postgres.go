package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification runs; ids are UUIDv7 text so they sort by creation time
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		contract TEXT NOT NULL,
		predeploy BOOLEAN NOT NULL DEFAULT FALSE,
		block_number BIGINT NOT NULL DEFAULT 0,
		results JSONB NOT NULL,
		error TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Compiled artifacts keyed by contract and compiler settings
	CREATE TABLE IF NOT EXISTS artifact_cache (
		cache_key TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		content BYTEA NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_lookup ON runs(chain_id, address);
	CREATE INDEX IF NOT EXISTS idx_runs_contract ON runs(contract);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateRun records a verification run, assigning its ID when empty
func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	results, err := encodeResults(run.Results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	query := `
		INSERT INTO runs (id, chain_id, address, contract, predeploy, block_number, results, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query, run.ID, run.ChainID, normalizeAddress(run.Address), run.Contract, run.Predeploy, run.Block, results, run.Error)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, chain_id, address, contract, predeploy, block_number, results, error, created_at
		FROM runs
		WHERE id = $1
	`
	run, err := scanPostgresRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs, newest first, with cursor-based pagination
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ChainID != "" {
		conds = append(conds, "chain_id = "+arg(filter.ChainID))
	}
	if filter.Address != "" {
		conds = append(conds, "address = "+arg(normalizeAddress(filter.Address)))
	}
	if filter.Contract != "" {
		conds = append(conds, "contract = "+arg(filter.Contract))
	}
	if pagination.Cursor != "" {
		conds = append(conds, "id < "+arg(pagination.Cursor))
	}

	query := `SELECT id, chain_id, address, contract, predeploy, block_number, results, error, created_at FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT " + arg(pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page(runs, pagination.Limit), nil
}

func scanPostgresRun(row rowScanner) (*Run, error) {
	var run Run
	var results string
	var runErr sql.NullString
	var createdAt time.Time
	if err := row.Scan(&run.ID, &run.ChainID, &run.Address, &run.Contract, &run.Predeploy, &run.Block, &results, &runErr, &createdAt); err != nil {
		return nil, err
	}
	decoded, err := decodeResults(results)
	if err != nil {
		return nil, fmt.Errorf("decoding results of run %s: %w", run.ID, err)
	}
	run.Results = decoded
	run.Error = runErr.String
	run.CreatedAt = createdAt.UTC().Format(time.DateTime)
	return &run, nil
}

// GetCachedArtifact retrieves a cached artifact
func (s *PostgresStore) GetCachedArtifact(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, "SELECT content FROM artifact_cache WHERE cache_key = $1", key).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return content, err
}

// PutCachedArtifact stores an artifact, replacing any previous entry
func (s *PostgresStore) PutCachedArtifact(ctx context.Context, key string, content []byte) error {
	query := `
		INSERT INTO artifact_cache (cache_key, content_hash, content, size_bytes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET content = EXCLUDED.content, content_hash = EXCLUDED.content_hash, size_bytes = EXCLUDED.size_bytes
	`
	_, err := s.db.ExecContext(ctx, query, key, computeHash(content), content, len(content))
	return err
}
