// Package lock implements the distributed, fencing-tokened lease used to
// serialize per-cluster work across multiple orchestrator processes (C2).
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/guard/pkg/metrics"
)

// Record is the persisted shape of a held lock.
type Record struct {
	ResourceID   string    `json:"resource_id"`
	Owner        string    `json:"owner"`
	ExpiryTime   time.Time `json:"expiry_time"`
	AcquiredAt   time.Time `json:"acquired_at"`
	FencingToken int64     `json:"fencing_token"`
}

// LockAcquisitionError is returned when a lock cannot be acquired within
// wait_timeout_sec, or when release/extend is attempted with a
// non-matching owner or stale fencing token.
type LockAcquisitionError struct {
	ResourceID string
	Reason     string
}

func (e *LockAcquisitionError) Error() string {
	return fmt.Sprintf("lock: %s: %s", e.ResourceID, e.Reason)
}

// Config tunes acquisition retry and default lease length.
type Config struct {
	TTL             time.Duration
	AcquireWaitStep time.Duration // poll interval while wait=true; spec fixes this at 1Hz
}

func DefaultConfig() Config {
	return Config{TTL: 30 * time.Second, AcquireWaitStep: time.Second}
}

// Locker is a Redis-backed implementation of C2. Every resource shares one
// Redis client; the fencing counter lives in a companion key so it
// survives lock expiry (the invariant is strict monotonicity across the
// resource's entire lifetime, not just while a lock is held).
type Locker struct {
	redis   *redis.Client
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.LockMetrics
}

func New(client *redis.Client, cfg Config, logger *slog.Logger, m *metrics.LockMetrics) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL == 0 {
		cfg = DefaultConfig()
	}
	return &Locker{redis: client, cfg: cfg, logger: logger, metrics: m}
}

func lockKey(resourceID string) string  { return "guard:lock:" + resourceID }
func fenceKey(resourceID string) string { return "guard:lock:" + resourceID + ":fence" }

// acquireScript conditionally writes the lock record iff absent or
// expired, and bumps the fencing counter atomically in the same
// round-trip so a crash between the two operations cannot happen.
//
// KEYS[1] = lock key, KEYS[2] = fence key
// ARGV[1] = owner, ARGV[2] = ttl_seconds, ARGV[3] = now_unix
const acquireScript = `
local current = redis.call("GET", KEYS[1])
if current then
  local expiry = tonumber(redis.call("HGET", KEYS[1] .. ":meta", "expiry"))
  if expiry and expiry > tonumber(ARGV[3]) then
    return {0, current, 0}
  end
end
local token = redis.call("INCR", KEYS[2])
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
redis.call("HSET", KEYS[1] .. ":meta", "expiry", tonumber(ARGV[3]) + tonumber(ARGV[2]), "acquired_at", ARGV[3], "token", token)
redis.call("EXPIRE", KEYS[1] .. ":meta", ARGV[2])
return {1, ARGV[1], token}
`

// releaseScript removes the lock record only if both owner and fencing
// token still match what the caller believes it holds.
const releaseScript = `
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
  local token = tonumber(redis.call("HGET", KEYS[1] .. ":meta", "token"))
  if token == tonumber(ARGV[2]) then
    redis.call("DEL", KEYS[1])
    redis.call("DEL", KEYS[1] .. ":meta")
    return 1
  end
end
return 0
`

// extendScript refreshes TTL and expiry metadata iff owner and fencing
// token match.
const extendScript = `
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
  local token = tonumber(redis.call("HGET", KEYS[1] .. ":meta", "token"))
  if token == tonumber(ARGV[2]) then
    redis.call("EXPIRE", KEYS[1], ARGV[3])
    redis.call("HSET", KEYS[1] .. ":meta", "expiry", tonumber(ARGV[4]) + tonumber(ARGV[3]))
    redis.call("EXPIRE", KEYS[1] .. ":meta", ARGV[3])
    return 1
  end
end
return 0
`

func generateOwner() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("owner_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Acquire attempts to take the lock for resourceID. If owner is empty a
// random owner id is generated. When wait is true, Acquire polls at 1 Hz
// until waitTimeout elapses before failing.
func (l *Locker) Acquire(ctx context.Context, resourceID, owner string, timeout time.Duration, wait bool, waitTimeout time.Duration) (string, int64, error) {
	if owner == "" {
		owner = generateOwner()
	}
	if timeout == 0 {
		timeout = l.cfg.TTL
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		token, ok, err := l.tryAcquire(ctx, resourceID, owner, timeout)
		if err != nil {
			return "", 0, err
		}
		if ok {
			l.metrics.RecordAcquire("success")
			return owner, token, nil
		}
		l.metrics.RecordAcquire("held")

		if !wait || time.Now().After(deadline) {
			return "", 0, &LockAcquisitionError{ResourceID: resourceID, Reason: "lock held and wait_timeout_sec exceeded"}
		}

		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(l.cfg.AcquireWaitStep):
		}
	}
}

func (l *Locker) tryAcquire(ctx context.Context, resourceID, owner string, ttl time.Duration) (int64, bool, error) {
	now := time.Now().Unix()
	res, err := l.redis.Eval(ctx, acquireScript, []string{lockKey(resourceID), fenceKey(resourceID)},
		owner, int(ttl.Seconds()), now).Result()
	if err != nil {
		return 0, false, &LockAcquisitionError{ResourceID: resourceID, Reason: err.Error()}
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return 0, false, &LockAcquisitionError{ResourceID: resourceID, Reason: "unexpected acquire script reply"}
	}
	success, _ := vals[0].(int64)
	if success != 1 {
		return 0, false, nil
	}
	token, _ := vals[2].(int64)
	return token, true, nil
}

// Release drops the lock iff owner and fencing token still match. A
// mismatch (already expired, or stolen by a newer token) is not treated
// as fatal — it is logged and returns nil, matching the teacher's
// best-effort release semantics.
func (l *Locker) Release(ctx context.Context, resourceID, owner string, fencingToken int64) error {
	res, err := l.redis.Eval(ctx, releaseScript, []string{lockKey(resourceID)}, owner, fencingToken).Result()
	if err != nil {
		return &LockAcquisitionError{ResourceID: resourceID, Reason: err.Error()}
	}
	if n, _ := res.(int64); n == 1 {
		l.logger.Debug("lock released", "resource_id", resourceID, "owner", owner)
		return nil
	}
	l.logger.Warn("lock release no-op: not held by this owner/token", "resource_id", resourceID, "owner", owner, "fencing_token", fencingToken)
	return nil
}

// Extend refreshes the lease by additionalSec, conditional on
// (owner, fencingToken) still matching the held record.
func (l *Locker) Extend(ctx context.Context, resourceID, owner string, fencingToken int64, additional time.Duration) error {
	now := time.Now().Unix()
	res, err := l.redis.Eval(ctx, extendScript, []string{lockKey(resourceID)},
		owner, fencingToken, int(additional.Seconds()), now).Result()
	if err != nil {
		return &LockAcquisitionError{ResourceID: resourceID, Reason: err.Error()}
	}
	if n, _ := res.(int64); n == 1 {
		return nil
	}
	return &LockAcquisitionError{ResourceID: resourceID, Reason: "extend rejected: owner or fencing token mismatch"}
}

// Check lazily garbage-collects an expired record and returns the live
// record, or nil if no lock is held.
func (l *Locker) Check(ctx context.Context, resourceID string) (*Record, error) {
	owner, err := l.redis.Get(ctx, lockKey(resourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &LockAcquisitionError{ResourceID: resourceID, Reason: err.Error()}
	}

	meta, err := l.redis.HGetAll(ctx, lockKey(resourceID)+":meta").Result()
	if err != nil || len(meta) == 0 {
		return nil, nil
	}

	var rec Record
	rec.ResourceID = resourceID
	rec.Owner = owner
	fmt.Sscanf(meta["token"], "%d", &rec.FencingToken)

	var expiryUnix int64
	fmt.Sscanf(meta["expiry"], "%d", &expiryUnix)
	rec.ExpiryTime = time.Unix(expiryUnix, 0).UTC()

	var acquiredUnix int64
	fmt.Sscanf(meta["acquired_at"], "%d", &acquiredUnix)
	rec.AcquiredAt = time.Unix(acquiredUnix, 0).UTC()

	if rec.ExpiryTime.Before(time.Now()) {
		// Expired but not yet evicted by Redis TTL skew; remove it (only if
		// owner and token still match) and treat as absent.
		l.redis.Eval(ctx, releaseScript, []string{lockKey(resourceID)}, rec.Owner, rec.FencingToken)
		return nil, nil
	}
	return &rec, nil
}

// AutoRenew runs until stopSignal closes or an extension fails, refreshing
// the lease every renewalInterval with additional = 2*renewalInterval.
// It never outlives the context passed by the caller: see WithLock, which
// scopes the goroutine's lifetime to the caller's own context rather than
// spawning a detached background renewer.
func (l *Locker) AutoRenew(ctx context.Context, resourceID, owner string, fencingToken int64, renewalInterval time.Duration, stopSignal <-chan struct{}) {
	ticker := time.NewTicker(renewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopSignal:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-stopSignal:
				return
			default:
			}

			if err := l.Extend(ctx, resourceID, owner, fencingToken, 2*renewalInterval); err != nil {
				l.logger.Error("auto-renew failed, lock presumed lost", "resource_id", resourceID, "owner", owner, "error", err)
				l.metrics.RecordRenewal("failure")
				return
			}
			l.metrics.RecordRenewal("success")
		}
	}
}
