package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/metrics"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
)

// Sweeper deletes raw uploads older than the TTL. Extracted data is kept.
type Sweeper struct {
	docs     repository.DocumentRepository
	store    *LocalStore
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(docs repository.DocumentRepository, store *LocalStore, ttl, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{docs: docs, store: store, ttl: ttl, interval: interval, log: log}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		s.log.Info("upload sweeper disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx, time.Now()); err != nil {
			s.log.Error("upload sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce removes every document created before now-ttl and returns how many went.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	docs, err := s.docs.ListCreatedBefore(ctx, now.Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, d := range docs {
		if err := s.store.Delete(d.Path); err != nil {
			s.log.Warn("upload sweep: blob delete failed", "document_id", d.ID, "error", err)
			continue
		}
		if err := s.docs.Delete(ctx, d.ID); err != nil {
			s.log.Warn("upload sweep: row delete failed", "document_id", d.ID, "error", err)
			continue
		}
		removed++
	}
	metrics.AddSwept(removed)
	if removed > 0 {
		s.log.Info("upload sweep done", "removed", removed)
	}
	return removed, nil
}
