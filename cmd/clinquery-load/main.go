package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinquery/clinquery/internal/config"
	"github.com/clinquery/clinquery/internal/demo"
	"github.com/clinquery/clinquery/internal/ingest"
	"github.com/clinquery/clinquery/internal/observability"
	s3store "github.com/clinquery/clinquery/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("clinquery-load")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	dir := flag.String("dir", cfg.Source.Directory, "directory of csv/parquet files to load")
	objectKey := flag.String("object", cfg.Source.ObjectKey, "object key or prefix to load from the object store")
	out := flag.String("out", cfg.Store.Path, "DuckDB store file to (re)build")
	withDemo := flag.Bool("demo", false, "generate the synthetic clinical dataset into -dir before loading")
	flag.Parse()

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *withDemo {
		demoCfg, err := demo.LoadConfigFromEnv(os.LookupEnv)
		if err != nil {
			logger.Error("invalid demo config", slog.Any("error", err))
			os.Exit(1)
		}
		if *dir != "" {
			demoCfg.Directory = *dir
		}
		paths, err := demo.WriteDataset(demoCfg)
		if err != nil {
			logger.Error("failed to generate demo dataset", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("demo dataset written", slog.String("dir", demoCfg.Directory), slog.Any("files", paths), slog.Int("patients", demoCfg.Patients))
		*dir = demoCfg.Directory
		*objectKey = ""
	}

	loader := &ingest.Loader{Logger: logger}
	var loads []ingest.TableLoad
	switch {
	case *objectKey != "":
		storeCfg := s3store.ConfigFrom(cfg.ObjectStore)
		storeCfg.AutoCreateBucket = false
		store, err := s3store.New(ctx, storeCfg)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		loader.ObjectStore = store
		loads, err = loader.LoadObjects(ctx, *out, *objectKey)
		if err != nil {
			logger.Error("load from object store failed", slog.String("object", *objectKey), slog.Any("error", err))
			os.Exit(1)
		}
	case *dir != "":
		loads, err = loader.LoadDirectory(ctx, *out, *dir)
		if err != nil {
			logger.Error("load from directory failed", slog.String("dir", *dir), slog.Any("error", err))
			os.Exit(1)
		}
	default:
		logger.Error("nothing to load: set -dir, -object or -demo")
		os.Exit(2)
	}

	var rows int64
	for _, load := range loads {
		rows += load.Rows
	}
	logger.Info("store rebuilt", slog.String("path", *out), slog.Int("tables", len(loads)), slog.Int64("rows", rows))
}
