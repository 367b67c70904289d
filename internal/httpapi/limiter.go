package httpapi

import (
	"context"
	"sync"
	"time"

	"voicedash/internal/calls"
	"voicedash/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisCallLimiter enforces the per-workspace concurrent-call cap with
// atomic redis counters. The slot TTL bounds leakage if a terminate never
// arrives (crashed process, missed event).
type RedisCallLimiter struct {
	RDB   *redis.Client
	Limit int
	TTL   time.Duration
}

func (l *RedisCallLimiter) key(workspaceID string) string {
	return "voicedash:callcap:" + workspaceID
}

func (l *RedisCallLimiter) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return utils.AcquireCallSlot(ctx, l.RDB, l.key(workspaceID), l.Limit, ttl)
}

func (l *RedisCallLimiter) Release(ctx context.Context, workspaceID string) error {
	return utils.ReleaseCallSlot(ctx, l.RDB, l.key(workspaceID))
}

// DialLedger pairs cap slots with the calls holding them so a slot is
// released exactly once per call, whichever way the call ends: backend
// rejection, explicit terminate, or the terminal event the reconciler
// observes. Calls the gateway did not place hold no slot and are ignored.
type DialLedger struct {
	limiter CallLimiter

	mu     sync.Mutex
	byCall map[string]string // call id -> workspace id
}

func NewDialLedger(limiter CallLimiter) *DialLedger {
	return &DialLedger{limiter: limiter, byCall: map[string]string{}}
}

// Enabled reports whether a concurrency cap is configured.
func (d *DialLedger) Enabled() bool {
	return d != nil && d.limiter != nil
}

func (d *DialLedger) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	if !d.Enabled() {
		return true, nil
	}
	return d.limiter.Acquire(ctx, workspaceID)
}

// Track associates a placed call with the slot acquired for it.
func (d *DialLedger) Track(callID, workspaceID string) {
	if !d.Enabled() || callID == "" {
		return
	}
	d.mu.Lock()
	d.byCall[callID] = workspaceID
	d.mu.Unlock()
}

// ReleaseSlot returns a slot that never got a call id (the dial failed).
func (d *DialLedger) ReleaseSlot(ctx context.Context, workspaceID string) error {
	if !d.Enabled() {
		return nil
	}
	return d.limiter.Release(ctx, workspaceID)
}

// CallEnded releases the slot held by callID, if any. Idempotent.
func (d *DialLedger) CallEnded(ctx context.Context, callID string) error {
	if !d.Enabled() {
		return nil
	}
	d.mu.Lock()
	wid, ok := d.byCall[callID]
	delete(d.byCall, callID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.limiter.Release(ctx, wid)
}

// OnRetire satisfies the reconciler retire hook, releasing slots for
// gateway-placed calls that end naturally instead of waiting out the TTL.
func (d *DialLedger) OnRetire(rec calls.CallRecord) {
	_ = d.CallEnded(context.Background(), rec.CallID)
}
