package otp

import (
	"context"
	"log"
	"time"

	"github.com/signetcrm/server/internal/repo"
)

// Sweeper periodically deletes expired, unverified codes. Best-effort
// housekeeping, not correctness-critical: expiry is enforced on verify.
type Sweeper struct {
	otpRepo  repo.OtpRepo
	interval time.Duration
}

// NewSweeper creates a sweeper running at the given interval.
func NewSweeper(otpRepo repo.OtpRepo, interval time.Duration) *Sweeper {
	return &Sweeper{otpRepo: otpRepo, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.otpRepo.DeleteExpiredUnverified(ctx, time.Now())
			if err != nil {
				log.Printf("otp sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("otp sweep removed %d expired codes", n)
			}
		}
	}
}
