package service

import (
	"context"
	"time"
)

// RunPendingSweeper drops fragments older than ttl every interval until ctx
// is cancelled. ttl <= 0 returns immediately.
func (s *VerifierService) RunPendingSweeper(ctx context.Context, ttl, interval time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = ttl / 2
		if interval <= 0 {
			interval = ttl
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ExpirePending(ttl)
		}
	}
}
