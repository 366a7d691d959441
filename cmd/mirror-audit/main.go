// One-shot tool: export every order mapping row to the daily Parquet audit
// file under <data_dir>/audit/order_maps/. Safe to re-run; exports merge.
//
// Usage:
//
//	go run cmd/mirror-audit/main.go [master-order-id]
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mirrord/internal/config"
	"mirrord/internal/domain"
	"mirrord/internal/store"
	"mirrord/internal/util"
)

func main() {
	cfgPath := "config/mirrord.yaml"
	if p := os.Getenv("MIRRORD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	path := cfg.Storage.SQLitePath
	if path == "" {
		dir := cfg.Storage.DataDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, "mirrord.db")
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	mappings, err := allMappings(ctx, st, os.Args[1:])
	if err != nil {
		log.Fatalf("loading mappings: %v", err)
	}
	if len(mappings) == 0 {
		slog.Info("no mappings to export")
		return
	}

	exp := store.NewAuditExporter(cfg.Storage.DataDir)
	out, err := exp.ExportMappings(mappings, time.Now())
	if err != nil {
		log.Fatalf("exporting audit file: %v", err)
	}
	slog.Info("audit export complete", "rows", len(mappings), "file", out)
}

func allMappings(ctx context.Context, st *store.SQLiteStore, args []string) ([]domain.Mapping, error) {
	if len(args) > 0 {
		return st.MappingsByMaster(ctx, args[0])
	}
	return st.AllMappings(ctx)
}
