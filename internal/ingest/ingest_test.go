package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/clinquery/clinquery/internal/demo"
	"github.com/clinquery/clinquery/internal/storage"
)

func writeDemo(t *testing.T, format string) string {
	t.Helper()
	cfg := demo.DefaultConfig()
	cfg.Directory = t.TempDir()
	cfg.Format = format
	cfg.Days = 14
	if _, err := demo.WriteDataset(cfg); err != nil {
		t.Fatalf("WriteDataset() error = %v", err)
	}
	return cfg.Directory
}

func countRows(t *testing.T, dbPath, table string) int64 {
	t.Helper()
	db, err := sql.Open("duckdb", dbPath+"?access_mode=read_only")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()
	var rows int64
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&rows); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return rows
}

func TestLoadDirectoryFormats(t *testing.T) {
	for _, format := range []string{"csv", "parquet"} {
		t.Run(format, func(t *testing.T) {
			dir := writeDemo(t, format)
			dbPath := filepath.Join(t.TempDir(), "store", "clinquery.duckdb")

			loads, err := (&Loader{}).LoadDirectory(context.Background(), dbPath, dir)
			if err != nil {
				t.Fatalf("LoadDirectory() error = %v", err)
			}
			if len(loads) != 3 {
				t.Fatalf("loads = %+v", loads)
			}
			want := map[string]int64{"assessments": 5 * 2, "medications": 5 * 14, "seizures": 5 * 14}
			for _, load := range loads {
				if load.Rows != want[load.Table] {
					t.Fatalf("table %s rows = %d, want %d", load.Table, load.Rows, want[load.Table])
				}
			}
			if got := countRows(t, dbPath, "seizures"); got != 70 {
				t.Fatalf("seizures rows = %d", got)
			}
			if _, err := os.Stat(dbPath + ".loading"); !os.IsNotExist(err) {
				t.Fatalf("temporary store left behind: %v", err)
			}
		})
	}
}

func TestLoadDirectoryReplacesExistingStore(t *testing.T) {
	dir := writeDemo(t, "csv")
	dbPath := filepath.Join(t.TempDir(), "clinquery.duckdb")
	loader := &Loader{}
	if _, err := loader.LoadDirectory(context.Background(), dbPath, dir); err != nil {
		t.Fatalf("first load error = %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "assessments.csv")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	loads, err := loader.LoadDirectory(context.Background(), dbPath, dir)
	if err != nil {
		t.Fatalf("second load error = %v", err)
	}
	if len(loads) != 2 {
		t.Fatalf("loads = %+v", loads)
	}

	db, err := sql.Open("duckdb", dbPath+"?access_mode=read_only")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Query("SELECT * FROM assessments"); err == nil {
		t.Fatalf("expected assessments to be gone after reload")
	}
}

func TestLoadDirectoryRejectsEmptyAndBadNames(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "clinquery.duckdb")
	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(empty, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (&Loader{}).LoadDirectory(context.Background(), dbPath, empty); err == nil {
		t.Fatalf("expected error for directory without sources")
	}

	bad := t.TempDir()
	if err := os.WriteFile(filepath.Join(bad, "daily-vitals.csv"), []byte("a\n1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := (&Loader{}).LoadDirectory(context.Background(), dbPath, bad)
	if err == nil || !strings.Contains(err.Error(), "invalid table name") {
		t.Fatalf("expected invalid table name error, got %v", err)
	}
}

type prefixStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (p *prefixStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (p *prefixStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *prefixStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (p *prefixStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range p.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func uploadDemo(t *testing.T, store *prefixStore, dir, prefix string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		if _, err := store.Put(context.Background(), prefix+entry.Name(), bytes.NewReader(data), int64(len(data)), storage.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
}

func TestLoadObjectsPrefixAndSingleObject(t *testing.T) {
	store := &prefixStore{objects: map[string][]byte{}}
	uploadDemo(t, store, writeDemo(t, "parquet"), "sources/clinical/")
	store.objects["sources/clinical/README.md"] = []byte("ignored")
	loader := &Loader{ObjectStore: store}

	dbPath := filepath.Join(t.TempDir(), "all.duckdb")
	loads, err := loader.LoadObjects(context.Background(), dbPath, "sources/clinical/")
	if err != nil {
		t.Fatalf("LoadObjects(prefix) error = %v", err)
	}
	if len(loads) != 3 {
		t.Fatalf("loads = %+v", loads)
	}

	single := filepath.Join(t.TempDir(), "single.duckdb")
	loads, err = loader.LoadObjects(context.Background(), single, "sources/clinical/medications.parquet")
	if err != nil {
		t.Fatalf("LoadObjects(object) error = %v", err)
	}
	if len(loads) != 1 || loads[0].Table != "medications" || loads[0].Rows != 70 {
		t.Fatalf("loads = %+v", loads)
	}
	if got := countRows(t, single, "medications"); got != 70 {
		t.Fatalf("medications rows = %d", got)
	}
}

func TestLoadObjectsErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "clinquery.duckdb")
	if _, err := (&Loader{}).LoadObjects(context.Background(), dbPath, "x"); err == nil {
		t.Fatalf("expected error without object store")
	}
	loader := &Loader{ObjectStore: &prefixStore{objects: map[string][]byte{}}}
	if _, err := loader.LoadObjects(context.Background(), dbPath, "missing/"); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
}
