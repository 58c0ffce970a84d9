package core

import (
	"context"
	"time"
)

// PendingGrantPurger is satisfied by Service and by anything else that can
// drop expired pending grants.
type PendingGrantPurger interface {
	PurgeExpiredPendingGrants(ctx context.Context) (PurgeResult, error)
}

// PendingGrantJanitor periodically purges expired pending grants until its
// context is cancelled.
type PendingGrantJanitor struct {
	Purger   PendingGrantPurger
	Interval time.Duration
	Logger   Logger
}

func NewPendingGrantJanitor(purger PendingGrantPurger, interval time.Duration, logger Logger) *PendingGrantJanitor {
	if interval <= 0 {
		interval = defaultPurgeInterval
	}
	return &PendingGrantJanitor{Purger: purger, Interval: interval, Logger: logger}
}

func (j *PendingGrantJanitor) Run(ctx context.Context) error {
	if j == nil || j.Purger == nil {
		return nil
	}
	interval := j.Interval
	if interval <= 0 {
		interval = defaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := j.Purger.PurgeExpiredPendingGrants(ctx)
			if err != nil {
				if j.Logger != nil {
					j.Logger.Warn("pending grant purge failed", "error", err)
				}
				continue
			}
			if result.Purged > 0 && j.Logger != nil {
				j.Logger.Debug("pending grants purged", "purged", result.Purged)
			}
		}
	}
}
