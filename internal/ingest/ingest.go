package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/clinquery/clinquery/internal/storage"
)

type TableLoad struct {
	Table  string `json:"table"`
	Source string `json:"source"`
	Rows   int64  `json:"rows"`
}

// Loader builds the DuckDB store from flat files, one table per file stem.
// The store is rebuilt in a temporary file and renamed into place.
type Loader struct {
	ObjectStore storage.ObjectStore
	Logger      *slog.Logger
}

func (l *Loader) LoadDirectory(ctx context.Context, dbPath, dir string) ([]TableLoad, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || readerFor(entry.Name()) == "" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return l.load(ctx, dbPath, files)
}

// LoadObjects loads a single object, or every supported object under a prefix.
func (l *Loader) LoadObjects(ctx context.Context, dbPath, key string) ([]TableLoad, error) {
	if l.ObjectStore == nil {
		return nil, fmt.Errorf("object store is not configured")
	}
	var keys []string
	if _, err := l.ObjectStore.Stat(ctx, key); err == nil {
		keys = []string{key}
	} else if errors.Is(err, storage.ErrObjectNotFound) {
		objects, err := l.ObjectStore.List(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list source objects: %w", err)
		}
		for _, object := range objects {
			if readerFor(object.Key) != "" {
				keys = append(keys, object.Key)
			}
		}
	} else {
		return nil, fmt.Errorf("stat source object: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no csv or parquet objects under %q", key)
	}

	tmpDir, err := os.MkdirTemp("", "clinquery-ingest-")
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	files := make([]string, 0, len(keys))
	for _, objectKey := range keys {
		local, err := l.download(ctx, objectKey, tmpDir)
		if err != nil {
			return nil, err
		}
		files = append(files, local)
	}
	return l.load(ctx, dbPath, files)
}

func (l *Loader) download(ctx context.Context, key, dir string) (string, error) {
	body, err := l.ObjectStore.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	local := filepath.Join(dir, filepath.Base(key))
	file, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("download object %q: %w", key, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", local, err)
	}
	return local, nil
}

func (l *Loader) load(ctx context.Context, dbPath string, files []string) ([]TableLoad, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no csv or parquet files to load")
	}
	sort.Strings(files)
	seen := map[string]string{}
	tables := make([]string, len(files))
	for i, file := range files {
		table, err := storage.TableNameForObject(file)
		if err != nil {
			return nil, err
		}
		if previous, ok := seen[table]; ok {
			return nil, fmt.Errorf("files %s and %s both map to table %q", previous, file, table)
		}
		seen[table] = file
		tables[i] = table
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	tmpPath := dbPath + ".loading"
	_ = os.Remove(tmpPath)
	_ = os.Remove(tmpPath + ".wal")

	db, err := sql.Open("duckdb", tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	loads := make([]TableLoad, 0, len(files))
	for i, file := range files {
		table := tables[i]
		source, err := filepath.Abs(file)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("resolve %s: %w", file, err)
		}
		statement := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s(%s)", quoteIdent(table), readerFor(file), quoteLiteral(source))
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load %s into %s: %w", file, table, err)
		}
		var rows int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&rows); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		loads = append(loads, TableLoad{Table: table, Source: file, Rows: rows})
		if l.Logger != nil {
			l.Logger.InfoContext(ctx, "table loaded", slog.String("table", table), slog.String("source", file), slog.Int64("rows", rows))
		}
	}
	if _, err := db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return nil, fmt.Errorf("replace store: %w", err)
	}
	return loads, nil
}

func readerFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "read_csv_auto"
	case ".parquet":
		return "read_parquet"
	default:
		return ""
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
