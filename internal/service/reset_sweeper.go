package service

import (
	"context"
	"log"
	"time"

	"github.com/binarkredit/kredit-api/internal/repository/ports"
)

// ResetSweeper garbage-collects terminal reset tokens on a fixed schedule.
// It is housekeeping only: expiry is re-evaluated on every read and every
// consume, so nothing is ever wrong if the sweeper falls behind or stops.
type ResetSweeper struct {
	resets    ports.PasswordResetRepository
	interval  time.Duration
	retention time.Duration
}

const (
	defaultSweepInterval  = time.Hour
	defaultSweepRetention = 24 * time.Hour
)

func NewResetSweeper(resets ports.PasswordResetRepository, interval, retention time.Duration) *ResetSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if retention <= 0 {
		retention = defaultSweepRetention
	}
	return &ResetSweeper{resets: resets, interval: interval, retention: retention}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *ResetSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := s.SweepOnce(ctx); err != nil {
				log.Printf("reset sweep failed: %v", err)
			} else if count > 0 {
				log.Printf("reset sweep removed %d tokens", count)
			}
		}
	}
}

func (s *ResetSweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.resets.SweepExpired(ctx, s.retention)
}
