// Command migrate-json-to-postgres copies a JSON tour datastore into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"tourgraph/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/tours.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("TOURGRAPH_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, TOURGRAPH_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", *jsonPath, "panoramas", counts.Panoramas, "hotspots", counts.Hotspots)
	if counts.DanglingTargets > 0 {
		logger.Warn("hotspots reference panoramas missing from the snapshot, their targets will be cleared", "count", counts.DanglingTargets)
	}

	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, dsn)
	if err != nil {
		logger.Error("failed to open postgres store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close(context.Background())
	}()

	if _, err := store.ImportSnapshot(ctx, snapshot); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}

	if err := verifyCounts(ctx, dsn, counts); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "panoramas", counts.Panoramas, "hotspots", counts.Hotspots)
}

func verifyCounts(ctx context.Context, dsn string, counts storage.SnapshotCounts) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"panoramas", "SELECT COUNT(*) FROM panoramas", counts.Panoramas},
		{"hotspots", "SELECT COUNT(*) FROM hotspots", counts.Hotspots},
		{"linked hotspots", "SELECT COUNT(*) FROM hotspots WHERE target_id IS NOT NULL", counts.LinkedHotspots},
	}

	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual != check.expected {
			return fmt.Errorf("mismatch for %s: expected %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}
