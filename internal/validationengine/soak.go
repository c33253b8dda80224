package validationengine

import (
	"context"
	"time"
)

// RunSoakPeriod blocks for soakPeriodMinutes, logging progress every
// progressIntervalSec, so the post-upgrade metrics capture observes real
// steady-state traffic rather than the transient spike right after
// reconciliation. Returns early, without error, if ctx is cancelled.
func (e *Engine) RunSoakPeriod(ctx context.Context, soakPeriodMinutes int, progressIntervalSec int) {
	total := time.Duration(soakPeriodMinutes) * time.Minute
	interval := time.Duration(progressIntervalSec) * time.Second
	deadline := time.Now().Add(total)

	if e.metrics != nil {
		defer func(start time.Time) {
			e.metrics.RecordSoak(time.Since(start).Seconds())
		}(time.Now())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
			return
		case <-ticker.C:
			e.logger.Info("soak period in progress", "remaining", time.Until(deadline).Round(time.Second))
		}
	}
}
