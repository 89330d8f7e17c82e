// Package ratelimits provides named sliding-window request limiters keyed by
// caller identity (token fingerprint or client IP).
package ratelimits

import (
	"sync"
	"time"
)

// Policy is one bucket's admission rule: at most Rate admissions per rolling
// Window.
type Policy struct {
	Rate   int
	Window time.Duration
}

// Bucket policies shared by both servers.
var (
	APIKey     = Policy{Rate: 50, Window: 60 * time.Second}
	IPDefault  = Policy{Rate: 25, Window: 30 * time.Second}
	RenderOne  = Policy{Rate: 15, Window: 30 * time.Second}
	CheckKey   = Policy{Rate: 10, Window: 40 * time.Second}
	EditAction = Policy{Rate: 10, Window: 60 * time.Second}
	Edit       = Policy{Rate: 5, Window: 25 * time.Second}
	TokenIssue = Policy{Rate: 3, Window: 120 * time.Second}
)

// Limiter tracks admission timestamps per (bucket, key). Admission is
// recorded only when granted, so denied requests never extend a caller's
// penalty.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]map[string][]time.Time
}

func New() *Limiter {
	return &Limiter{
		now:     time.Now,
		buckets: make(map[string]map[string][]time.Time),
	}
}

// Admit reports whether key may proceed in the named bucket under p, and
// records the admission if so.
func (l *Limiter) Admit(bucket string, p Policy, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.buckets[bucket]
	if !ok {
		keys = make(map[string][]time.Time)
		l.buckets[bucket] = keys
	}

	now := l.now()
	cutoff := now.Add(-p.Window)

	window := keys[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= p.Rate {
		keys[key] = kept
		return false
	}

	keys[key] = append(kept, now)
	return true
}

// Prune drops keys whose windows have fully expired. Callers may run it
// periodically; Admit alone never leaks admissions, only idle key entries.
func (l *Limiter) Prune(p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-p.Window)
	for _, keys := range l.buckets {
		for key, window := range keys {
			live := false
			for _, t := range window {
				if t.After(cutoff) {
					live = true
					break
				}
			}
			if !live {
				delete(keys, key)
			}
		}
	}
}
