package lock

import (
	"context"
	"time"
)

// WithLock acquires resourceID, runs fn with the fencing token it was
// granted, and releases the lock on every exit path. The auto-renew
// goroutine's stop channel is closed via a defer tied to this call's own
// context, so the renewer can never outlive the caller's scope — there is
// no detached background renewer leaking past a cancelled or returned
// call.
func WithLock(ctx context.Context, l *Locker, resourceID, owner string, ttl, renewalInterval time.Duration, fn func(ctx context.Context, fencingToken int64) error) error {
	acquiredOwner, token, err := l.Acquire(ctx, resourceID, owner, ttl, true, ttl*4)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)

	renewCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go l.AutoRenew(renewCtx, resourceID, acquiredOwner, token, renewalInterval, stop)

	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		_ = l.Release(releaseCtx, resourceID, acquiredOwner, token)
	}()

	return fn(ctx, token)
}
