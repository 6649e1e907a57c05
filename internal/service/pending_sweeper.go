package service

import (
	"context"
	"time"

	"github.com/hscopalm/shareable-wishlists/internal/metrics"
)

// StartPendingShareSweeper runs a background loop that deletes invites older
// than ttl every interval. It blocks until the context is cancelled, so it
// should be launched in a separate goroutine.
func (s *Service) StartPendingShareSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Pending share sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Pending share sweeper stopped")
			return
		case <-ticker.C:
			s.SweepPendingShares(ctx, ttl)
		}
	}
}

// SweepPendingShares deletes invites created more than ttl ago and returns
// how many were removed.
func (s *Service) SweepPendingShares(ctx context.Context, ttl time.Duration) int64 {
	removed, err := s.Shares.DeleteExpiredPending(ctx, s.now().Add(-ttl))
	if err != nil {
		s.logger.Errorf("Failed to delete expired pending shares: %v", err)
		return 0
	}
	if removed > 0 {
		metrics.PendingSharesExpired.Add(float64(removed))
		s.logger.Infof("Removed %d expired pending shares", removed)
	}
	return removed
}
