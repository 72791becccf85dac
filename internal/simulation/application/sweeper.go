package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper evicts expired runs every SweepInterval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context) error {
	if r == nil {
		return nil
	}
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.logger.Info("evicted finished simulations", zap.Int("count", n))
			}
		}
	}
}
