package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter is a token bucket per key (session id or client IP). Buckets
// refill at requestsPerWindow per window with a burst of requestsPerWindow;
// buckets idle for longer than idleTTL are swept.
type KeyedLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func NewKeyedLimiter(requestsPerWindow int, window, idleTTL time.Duration) *KeyedLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &KeyedLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:    requestsPerWindow,
		idleTTL:  idleTTL,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Allow consumes one token for key and reports whether one was available.
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.entry(key).AllowN(kl.now(), 1)
}

// Remaining reports the whole tokens currently left for key.
func (kl *KeyedLimiter) Remaining(key string) int {
	tokens := kl.entry(key).TokensAt(kl.now())
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}

func (kl *KeyedLimiter) Limit() int {
	return kl.burst
}

func (kl *KeyedLimiter) entry(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	entry, exists := kl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(kl.rate, kl.burst)}
		kl.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

// Sweep drops buckets that have been idle longer than idleTTL.
func (kl *KeyedLimiter) Sweep() int {
	if kl.idleTTL <= 0 {
		return 0
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	threshold := kl.now().Add(-kl.idleTTL)
	removed := 0
	for key, entry := range kl.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps idle buckets every interval until Stop is called.
func (kl *KeyedLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				kl.Sweep()
			case <-kl.stop:
				return
			}
		}
	}()
}

func (kl *KeyedLimiter) Stop() {
	kl.stopOnce.Do(func() {
		close(kl.stop)
	})
}
