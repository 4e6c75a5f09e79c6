// Package store is the queryable dataset behind the Query tool: a sqlite
// database, optionally materialized from a directory of CSV/TSV files.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/errbuilder-go"
	_ "modernc.org/sqlite"
)

// sampleValueWidth is where sample row values are cut in the schema description.
const sampleValueWidth = 100

// SQLiteStore implements analyst.TabularStore over a sqlite file.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	tables     []string
	sampleRows int
	logger     *slog.Logger
}

var _ analyst.TabularStore = (*SQLiteStore)(nil)

type options struct {
	include    []string
	ignore     []string
	sampleRows int
	dbPath     string
	logger     *slog.Logger
}

// Option configures a store.
type Option func(*options)

// WithIncludeTables restricts the store to the named tables.
func WithIncludeTables(tables ...string) Option {
	return func(o *options) {
		o.include = append(o.include, tables...)
	}
}

// WithIgnoreTables hides the named tables.
func WithIgnoreTables(tables ...string) Option {
	return func(o *options) {
		o.ignore = append(o.ignore, tables...)
	}
}

// WithSampleRows appends n example rows per table to the schema description.
func WithSampleRows(n int) Option {
	return func(o *options) {
		o.sampleRows = n
	}
}

// WithDatabasePath sets where a directory load writes its database.
func WithDatabasePath(path string) Option {
	return func(o *options) {
		o.dbPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "store")
	return o
}

// Open opens an existing (or empty) sqlite database at path.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	return open(ctx, path, buildOptions(opts))
}

func open(ctx context.Context, path string, o *options) (*SQLiteStore, error) {
	if len(o.include) > 0 && len(o.ignore) > 0 {
		return nil, analyst.NewConfigurationError("cannot specify both include tables and ignore tables", nil)
	}
	if o.sampleRows < 0 {
		return nil, analyst.NewConfigurationError("sample rows must not be negative", nil)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, path: path, sampleRows: o.sampleRows, logger: o.logger}
	if err := s.resolveTables(ctx, o.include, o.ignore); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("tabular store opened", "path", path, "tables", s.tables)
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) resolveTables(ctx context.Context, include, ignore []string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	all := make(map[string]bool)
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan table name: %w", err)
		}
		all[name] = true
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if missing := missingTables(all, include); len(missing) > 0 {
		return analyst.NewConfigurationError(fmt.Sprintf("include tables %v not found in database", missing), nil)
	}
	if missing := missingTables(all, ignore); len(missing) > 0 {
		return analyst.NewConfigurationError(fmt.Sprintf("ignore tables %v not found in database", missing), nil)
	}

	switch {
	case len(include) > 0:
		s.tables = append([]string(nil), include...)
		sort.Strings(s.tables)
	default:
		skip := make(map[string]bool, len(ignore))
		for _, t := range ignore {
			skip[t] = true
		}
		for _, name := range names {
			if !skip[name] {
				s.tables = append(s.tables, name)
			}
		}
	}
	return nil
}

func missingTables(all map[string]bool, names []string) []string {
	var missing []string
	for _, n := range names {
		if !all[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// Tables returns the visible table names.
func (s *SQLiteStore) Tables() []string {
	return append([]string(nil), s.tables...)
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

// DescribeSchema returns one line per table: "Table 'name' has columns: col (TYPE), ...".
// Unknown table names fail with a not found error.
func (s *SQLiteStore) DescribeSchema(ctx context.Context, tables ...string) (string, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return "", err
	}
	if len(tables) == 0 {
		tables = s.tables
	} else {
		visible := make(map[string]bool, len(s.tables))
		for _, t := range s.tables {
			visible[t] = true
		}
		if missing := missingTables(visible, tables); len(missing) > 0 {
			return "", errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("tables %v not found in database", missing), nil))
		}
	}

	lines := make([]string, 0, len(tables))
	for _, table := range tables {
		line, err := s.describeTable(ctx, table)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *SQLiteStore) describeTable(ctx context.Context, table string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return "", fmt.Errorf("describe table %s: %w", table, err)
	}
	var columns []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan column of %s: %w", table, err)
		}
		columns = append(columns, fmt.Sprintf("%s (%s)", name, typ))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	line := fmt.Sprintf("Table '%s' has columns: %s.", table, strings.Join(columns, ", "))
	if s.sampleRows <= 0 {
		return line, nil
	}

	sample, err := s.Execute(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), s.sampleRows))
	if err != nil {
		return "", err
	}
	if sample.Len() == 0 {
		return line, nil
	}
	rendered := make([]string, len(sample.Rows))
	for i, row := range sample.Rows {
		values := make([]string, len(row))
		for j, v := range row {
			values[j] = truncate(sampleValue(v), sampleValueWidth)
		}
		rendered[i] = strings.Join(values, " ")
	}
	line += fmt.Sprintf(" Here is an example of %d rows from this table (long strings are truncated):\n%s",
		sample.Len(), strings.Join(rendered, "\n"))
	return line, nil
}

// Execute runs query and collects every row.
func (s *SQLiteStore) Execute(ctx context.Context, query string) (*analyst.TabularResult, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &analyst.TabularResult{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("query executed", "rows", result.Len(), "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sampleValue(v interface{}) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
