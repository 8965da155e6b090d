package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		contract TEXT NOT NULL,
		predeploy INTEGER NOT NULL DEFAULT 0,
		block_number INTEGER NOT NULL DEFAULT 0,
		results TEXT NOT NULL,
		error TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Compiled artifacts keyed by contract and compiler settings
	CREATE TABLE IF NOT EXISTS artifact_cache (
		cache_key TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		content BLOB NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
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
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	results, err := encodeResults(run.Results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	query := `
		INSERT INTO runs (id, chain_id, address, contract, predeploy, block_number, results, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`
	_, err = s.db.ExecContext(ctx, query, run.ID, run.ChainID, normalizeAddress(run.Address), run.Contract, run.Predeploy, run.Block, results, run.Error)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, chain_id, address, contract, predeploy, block_number, results, error, created_at
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs, newest first, with cursor-based pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	var conds []string
	var args []any

	if filter.ChainID != "" {
		conds = append(conds, "chain_id = ?")
		args = append(args, filter.ChainID)
	}
	if filter.Address != "" {
		conds = append(conds, "address = ?")
		args = append(args, normalizeAddress(filter.Address))
	}
	if filter.Contract != "" {
		conds = append(conds, "contract = ?")
		args = append(args, filter.Contract)
	}
	if pagination.Cursor != "" {
		conds = append(conds, "id < ?")
		args = append(args, pagination.Cursor)
	}

	query := `SELECT id, chain_id, address, contract, predeploy, block_number, results, error, created_at FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var results string
	var runErr sql.NullString
	if err := row.Scan(&run.ID, &run.ChainID, &run.Address, &run.Contract, &run.Predeploy, &run.Block, &results, &runErr, &run.CreatedAt); err != nil {
		return nil, err
	}
	decoded, err := decodeResults(results)
	if err != nil {
		return nil, fmt.Errorf("decoding results of run %s: %w", run.ID, err)
	}
	run.Results = decoded
	run.Error = runErr.String
	return &run, nil
}

// GetCachedArtifact retrieves a cached artifact
func (s *SQLiteStore) GetCachedArtifact(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, "SELECT content FROM artifact_cache WHERE cache_key = ?", key).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return content, err
}

// PutCachedArtifact stores an artifact, replacing any previous entry
func (s *SQLiteStore) PutCachedArtifact(ctx context.Context, key string, content []byte) error {
	query := `
		INSERT INTO artifact_cache (cache_key, content_hash, content, size_bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET content = excluded.content, content_hash = excluded.content_hash, size_bytes = excluded.size_bytes
	`
	_, err := s.db.ExecContext(ctx, query, key, computeHash(content), content, len(content))
	return err
}
