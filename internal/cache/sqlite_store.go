package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/errbuilder-go"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists completions in the completion table of a sqlite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ analyst.CompletionStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger.With("component", "cache")}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS completion (
		hash_id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		stop TEXT,
		model TEXT NOT NULL,
		max_tokens INTEGER NOT NULL,
		temperature REAL NOT NULL,
		completion TEXT,
		created_at TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.ensureCreatedAt()
}

// ensureCreatedAt adds the created_at column to tables written without it.
// Rows that predate the column keep a NULL timestamp.
func (s *SQLiteStore) ensureCreatedAt() error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('completion') WHERE name = 'created_at'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect completion table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE completion ADD COLUMN created_at TEXT`); err != nil {
		return fmt.Errorf("add created_at column: %w", err)
	}
	s.logger.Info("added created_at column to existing completion table")
	return nil
}

// Lookup returns the completion stored under hashID.
func (s *SQLiteStore) Lookup(ctx context.Context, hashID string) (*analyst.CachedCompletion, bool, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT hash_id, prompt, stop, model, max_tokens, temperature, completion, created_at
		FROM completion WHERE hash_id = ?`, hashID)
	c, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup completion %s: %w", hashID, err)
	}
	return c, true, nil
}

// Save inserts a completion. Concurrent saves of the same key keep the first row.
func (s *SQLiteStore) Save(ctx context.Context, c *analyst.CachedCompletion) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completion (hash_id, prompt, stop, model, max_tokens, temperature, completion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash_id) DO NOTHING`,
		c.HashID, c.Prompt, nullString(c.Stop), c.Model, c.MaxTokens, c.Temperature, c.Completion, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save completion %s: %w", c.HashID, err)
	}
	s.logger.Debug("completion stored", "hash_id", c.HashID, "model", c.Model)
	return nil
}

// List returns every stored completion ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context) ([]analyst.CachedCompletion, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash_id, prompt, stop, model, max_tokens, temperature, completion, created_at
		FROM completion ORDER BY created_at, hash_id`)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []analyst.CachedCompletion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row scanner) (*analyst.CachedCompletion, error) {
	var (
		c          analyst.CachedCompletion
		stop       sql.NullString
		completion sql.NullString
		createdAt  sql.NullString
	)
	if err := row.Scan(&c.HashID, &c.Prompt, &stop, &c.Model, &c.MaxTokens, &c.Temperature, &completion, &createdAt); err != nil {
		return nil, err
	}
	c.Stop = stop.String
	c.Completion = completion.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt.String); createdAt.Valid && err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
