package registration

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically sweeps pending registrations past their deadline into
// EXPIRED, releasing their email for a fresh attempt. Repositories also apply
// lazy expiry on read, so the reaper is housekeeping rather than load-bearing.
type Reaper struct {
	repo     Repository
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper builds a reaper over the given repository.
func NewReaper(repo Repository, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{repo: repo, interval: interval, logger: logger}
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := r.repo.ExpireStale(ctx, time.Now().UTC())
			if err != nil {
				r.logger.Warn("expiry sweep failed", slog.Any("error", err))
				continue
			}
			if moved > 0 {
				r.logger.Info("expired stale registrations", slog.Int64("count", moved))
			}
		}
	}
}
