package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"golang.org/x/sync/errgroup"
)

// DefaultDatabaseName is the file a directory load writes next to the data files.
const DefaultDatabaseName = "files_db.sqlite"

// table is one parsed data file.
type table struct {
	name    string
	source  string
	columns []string
	types   []string
	rows    [][]string
}

// LoadDirectory materializes every CSV/TSV file in dir as a table named by the
// file stem and opens the resulting store. Files are parsed concurrently;
// tables that already exist are replaced.
func LoadDirectory(ctx context.Context, dir string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if o.dbPath == "" {
		o.dbPath = filepath.Join(dir, DefaultDatabaseName)
	}

	paths, err := dataFiles(dir)
	if err != nil {
		return nil, err
	}

	tables := make([]*table, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			t, err := parseFile(gctx, path)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(tables))
	for _, t := range tables {
		if prev, ok := seen[t.name]; ok {
			return nil, analyst.NewConfigurationError(
				fmt.Sprintf("files %s and %s both map to table %q", prev, t.source, t.name), nil)
		}
		seen[t.name] = t.source
	}

	db, err := openDB(o.dbPath)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if err := writeTable(ctx, db, t); err != nil {
			db.Close()
			return nil, err
		}
		o.logger.Info("table loaded", "table", t.name, "file", t.source, "rows", len(t.rows))
	}
	if err := db.Close(); err != nil {
		return nil, err
	}
	return open(ctx, o.dbPath, o)
}

func dataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), "files_db") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".tsv":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func parseFile(ctx context.Context, path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, analyst.NewValidationError("load", fmt.Sprintf("%s has no header row", path), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	base := filepath.Base(path)
	t := &table{
		name:    strings.TrimSuffix(base, filepath.Ext(base)),
		source:  base,
		columns: make([]string, len(header)),
	}
	for i, c := range header {
		t.columns[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c, "\ufeff")))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		row := make([]string, len(header))
		copy(row, record)
		t.rows = append(t.rows, row)
	}
	t.types = inferTypes(len(t.columns), t.rows)
	return t, nil
}

// inferTypes picks INTEGER, REAL or TEXT per column from its non-empty cells.
func inferTypes(n int, rows [][]string) []string {
	types := make([]string, n)
	for col := 0; col < n; col++ {
		isInt, isFloat, seen := true, true, false
		for _, row := range rows {
			v := strings.TrimSpace(row[col])
			if v == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
			}
		}
		switch {
		case !seen:
			types[col] = "TEXT"
		case isInt:
			types[col] = "INTEGER"
		case isFloat:
			types[col] = "REAL"
		default:
			types[col] = "TEXT"
		}
	}
	return types
}

func writeTable(ctx context.Context, db *sql.DB, t *table) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	defs := make([]string, len(t.columns))
	for i, c := range t.columns {
		defs[i] = quoteIdent(c) + " " + t.types[i]
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t.name)); err != nil {
		return fmt.Errorf("drop table %s: %w", t.name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.name), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", t.name, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(t.name), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", t.name, err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			args[i] = typedValue(v, t.types[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", t.name, err)
		}
	}
	return tx.Commit()
}

func typedValue(v, typ string) interface{} {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return v
	}
}
