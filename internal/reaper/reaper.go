package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/SmilePineapple/mind-express-video/internal/metrics"
	"github.com/SmilePineapple/mind-express-video/internal/room"
)

// Reaper periodically evicts rooms that have seen no join or relay
// activity for longer than the configured threshold. It only drops
// registry state; clients whose sockets are still open recover through
// their own transport-level disconnect handling.
type Reaper struct {
	logger    *slog.Logger
	registry  *room.Registry
	period    time.Duration
	threshold time.Duration
}

func New(registry *room.Registry, period time.Duration, threshold time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		logger:    logger.With(slog.Group("reaper")),
		registry:  registry,
		period:    period,
		threshold: threshold,
	}
}

// Run sweeps on every tick until ctx is canceled. Call in its own
// goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	r.logger.Debug("reaper started", "period", r.period, "threshold", r.threshold)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reaper stopped")
			return
		case <-ticker.C:
			if evicted := r.registry.SweepInactive(r.threshold); evicted > 0 {
				metrics.RoomsEvicted.Add(float64(evicted))
				r.logger.Info("swept inactive rooms", "evicted", evicted)
			}
		}
	}
}
