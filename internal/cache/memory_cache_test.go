package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
)

func completion(id, text string) *analyst.CachedCompletion {
	return &analyst.CachedCompletion{
		HashID:     id,
		Prompt:     "prompt " + id,
		Stop:       "\nObservation:",
		Model:      "gpt-3.5-turbo-instruct",
		MaxTokens:  2000,
		Completion: text,
		CreatedAt:  time.Now().UTC(),
	}
}

// stores returns every implementation, fresh, for contract tests.
func stores(t *testing.T) map[string]analyst.CompletionStore {
	t.Helper()
	dir := t.TempDir()

	mem := NewInMemoryStore(0, nil)
	t.Cleanup(func() { mem.Close() })

	file, err := NewFileStore(0, filepath.Join(dir, "cache.json"), nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	db, err := NewSQLiteStore(filepath.Join(dir, "databases", "db.sqlite"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]analyst.CompletionStore{"memory": mem, "file": file, "sqlite": db}
}

func TestCompletionStore_SaveAndLookup(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, found, err := store.Lookup(ctx, "missing"); err != nil || found {
				t.Fatalf("Lookup(missing) = %v, %v", found, err)
			}

			if err := store.Save(ctx, completion("a", "first")); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, found, err := store.Lookup(ctx, "a")
			if err != nil || !found {
				t.Fatalf("Lookup(a) = %v, %v", found, err)
			}
			if got.Completion != "first" || got.Stop != "\nObservation:" || got.MaxTokens != 2000 {
				t.Errorf("unexpected completion %+v", got)
			}
		})
	}
}

func TestCompletionStore_SaveKeepsFirstValue(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, completion("a", "first")); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := store.Save(ctx, completion("a", "second")); err != nil {
				t.Fatalf("duplicate Save must not fail: %v", err)
			}
			got, _, _ := store.Lookup(ctx, "a")
			if got == nil || got.Completion != "first" {
				t.Errorf("expected the first value to be kept, got %+v", got)
			}
		})
	}
}

func TestCompletionStore_List(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				c := completion(fmt.Sprintf("k%d", i), "v")
				c.CreatedAt = time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
				if err := store.Save(ctx, c); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}
			all, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 completions, got %d", len(all))
			}
			for i, c := range all {
				if c.HashID != fmt.Sprintf("k%d", i) {
					t.Errorf("List[%d] = %s, want ordered by creation time", i, c.HashID)
				}
			}
		})
	}
}

func TestCompletionStore_Concurrency(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					errs <- store.Save(ctx, completion("same", "value"))
				}()
				go func() {
					defer wg.Done()
					_, _, err := store.Lookup(ctx, "same")
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Errorf("concurrent access failed: %v", err)
				}
			}
			got, found, _ := store.Lookup(ctx, "same")
			if !found || got.Completion != "value" {
				t.Errorf("unexpected state after concurrent saves: %+v", got)
			}
		})
	}
}

func TestCompletionStore_CancelledContext(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if _, _, err := store.Lookup(ctx, "a"); err == nil {
				t.Error("expected error for a cancelled context")
			}
			if err := store.Save(ctx, completion("a", "v")); err == nil {
				t.Error("expected error for a cancelled context")
			}
		})
	}
}

func TestInMemoryStore_Expiration(t *testing.T) {
	store := NewInMemoryStore(50*time.Millisecond, nil)
	defer store.Close()
	ctx := context.Background()

	if err := store.Save(ctx, completion("baz", "qux")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, found, err := store.Lookup(ctx, "baz"); err != nil || found {
		t.Errorf("expected expired item to be missing, got %v, %v", found, err)
	}

	if err := store.Save(ctx, completion("baz", "fresh")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, found, _ := store.Lookup(ctx, "baz")
	if !found || got.Completion != "fresh" {
		t.Errorf("expired entries should be replaceable, got %+v", got)
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore(0, nil)
	defer store.Close()
	ctx := context.Background()

	if err := store.Delete(ctx, "missing"); err == nil {
		t.Error("expected not found error")
	}
	_ = store.Save(ctx, completion("a", "v"))
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", store.Len())
	}
}

func TestFileStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	ctx := context.Background()

	first, err := NewFileStore(0, path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := first.Save(ctx, completion("a", "persisted")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second, err := NewFileStore(0, path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, found, err := second.Lookup(ctx, "a")
	if err != nil || !found || got.Completion != "persisted" {
		t.Errorf("expected persisted completion, got %+v, %v, %v", got, found, err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	first, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	c := completion("a", "persisted")
	c.Stop = ""
	if err := first.Save(ctx, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	got, found, err := second.Lookup(ctx, "a")
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v", found, err)
	}
	if got.Completion != "persisted" || got.Stop != "" {
		t.Errorf("unexpected completion %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should round trip")
	}
}

func TestSQLiteStore_OpensTableWithoutCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err = raw.Exec(`
		CREATE TABLE completion (
			hash_id VARCHAR NOT NULL,
			prompt VARCHAR NOT NULL,
			stop VARCHAR,
			model VARCHAR NOT NULL,
			max_tokens INTEGER NOT NULL,
			temperature FLOAT NOT NULL,
			completion VARCHAR,
			PRIMARY KEY (hash_id)
		)`)
	if err != nil {
		t.Fatalf("creating legacy table failed: %v", err)
	}
	_, err = raw.Exec(`
		INSERT INTO completion (hash_id, prompt, stop, model, max_tokens, temperature, completion)
		VALUES ('h1', 'Question: q', NULL, 'text-davinci-003', 2000, 0.0, 'Final Answer: 4')`)
	if err != nil {
		t.Fatalf("seeding legacy table failed: %v", err)
	}
	raw.Close()

	store, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	got, found, err := store.Lookup(ctx, "h1")
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v", found, err)
	}
	if got.Completion != "Final Answer: 4" || got.Stop != "" || got.Model != "text-davinci-003" {
		t.Errorf("unexpected completion %+v", got)
	}
	if !got.CreatedAt.IsZero() {
		t.Errorf("legacy rows have no timestamp, got %v", got.CreatedAt)
	}

	if err := store.Save(ctx, completion("h2", "new")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(all))
	}
	if all[0].HashID != "h1" || all[1].CreatedAt.IsZero() {
		t.Errorf("unexpected order or timestamps: %+v", all)
	}
}
