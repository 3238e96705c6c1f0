package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
)

// ConnectDB opens the configured database, checks it answers and applies pending migrations.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	db, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if err := db.HealthCheck(ctx, timeout, logger); err != nil {
		db.Close(logger)
		return nil, err
	}
	if err := repository.Migrate(db, logger); err != nil {
		db.Close(logger)
		return nil, err
	}
	return db, nil
}
