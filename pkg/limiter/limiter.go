// Package limiter provides per-key token buckets with an optional daily cap.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimit is returned when the per-minute bucket is empty.
	ErrRateLimit = fmt.Errorf("rate limit exceeded")
	// ErrDailyLimit is returned when the daily allowance is spent.
	ErrDailyLimit = fmt.Errorf("daily limit exceeded")
)

// Limits applies to every key. Zero disables that limit.
type Limits struct {
	PerMinute int // Bucket size, refilled once per whole minute
	PerDay    int
}

// Limiter enforces Limits independently per key, e.g. per user or per generator model.
// A nil *Limiter allows everything.
type Limiter struct {
	limits     Limits
	buckets    map[string]*bucket
	resetTimer *time.Timer
	lastSweep  time.Time
	now        func() time.Time
	mu         sync.Mutex
}

//nolint:govet // Struct layout optimization not critical for this use case
type bucket struct {
	lastRefill time.Time
	mu         sync.Mutex
	tokens     int
	usedToday  int
}

// New creates a limiter and schedules the daily reset at local midnight.
func New(limits Limits) *Limiter {
	l := &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	l.scheduleDailyReset()
	return l
}

// Reserve takes cost units from key's allowance.
func (l *Limiter) Reserve(key string, cost int) error {
	if l == nil {
		return nil
	}
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	if l.limits.PerDay > 0 && b.usedToday+cost > l.limits.PerDay {
		return ErrDailyLimit
	}
	if l.limits.PerMinute > 0 {
		l.refill(b)
		if b.tokens < cost {
			return ErrRateLimit
		}
		b.tokens -= cost
	}
	b.usedToday += cost
	return nil
}

// Status returns what key may still spend this minute and what it spent today.
// available is -1 when there is no per-minute limit.
func (l *Limiter) Status(key string) (available, usedToday int) {
	if l == nil {
		return -1, 0
	}
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	if l.limits.PerMinute <= 0 {
		return -1, b.usedToday
	}
	l.refill(b)
	return b.tokens, b.usedToday
}

// ResetDaily forgets every key, restoring full allowances.
func (l *Limiter) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// Close stops the daily reset timer.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resetTimer != nil {
		l.resetTimer.Stop()
		l.resetTimer = nil
	}
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		now := l.now()
		if now.Sub(l.lastSweep) >= time.Minute {
			l.sweepIdle(now)
		}
		b = &bucket{tokens: l.limits.PerMinute, lastRefill: now} // Start with a full bucket
		l.buckets[key] = b
	}
	return b
}

// sweepIdle drops buckets a fresh bucket would reproduce: refilled to full and, when a daily
// cap applies, unused today. Must be called with l.mu held.
func (l *Limiter) sweepIdle(now time.Time) {
	l.lastSweep = now
	for key, b := range l.buckets {
		b.mu.Lock()
		full := l.limits.PerMinute <= 0 || now.Sub(b.lastRefill) >= time.Minute
		unused := l.limits.PerDay <= 0 || b.usedToday == 0
		b.mu.Unlock()
		if full && unused {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// refill must be called with b.mu held.
func (l *Limiter) refill(b *bucket) {
	elapsed := l.now().Sub(b.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	b.tokens += minutes * l.limits.PerMinute
	if b.tokens > l.limits.PerMinute {
		b.tokens = l.limits.PerMinute
	}
	// Keep the phase of the last complete minute.
	b.lastRefill = b.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

func (l *Limiter) scheduleDailyReset() {
	now := time.Now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetTimer = time.AfterFunc(time.Until(nextMidnight), func() {
		l.ResetDaily()
		l.mu.Lock()
		stopped := l.resetTimer == nil
		l.mu.Unlock()
		if !stopped {
			l.scheduleDailyReset()
		}
	})
}
