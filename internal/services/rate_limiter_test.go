package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter_Allow(t *testing.T) {
	limiter := NewKeyedLimiter(3, time.Minute, time.Minute)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("sess-1"), "request %d", i)
	}
	assert.False(t, limiter.Allow("sess-1"))
	assert.Equal(t, 0, limiter.Remaining("sess-1"))

	// other keys have their own bucket
	assert.True(t, limiter.Allow("sess-2"))
	assert.Equal(t, 2, limiter.Remaining("sess-2"))

	// 3 per minute refills one token every 20s
	now = now.Add(21 * time.Second)
	assert.True(t, limiter.Allow("sess-1"))
	assert.False(t, limiter.Allow("sess-1"))
}

func TestKeyedLimiter_Sweep(t *testing.T) {
	limiter := NewKeyedLimiter(10, time.Minute, 5*time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(4 * time.Minute)
	limiter.Allow("fresh")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 10, limiter.Limit())

	limiter.mu.Lock()
	_, oldExists := limiter.limiters["old"]
	_, freshExists := limiter.limiters["fresh"]
	limiter.mu.Unlock()
	assert.False(t, oldExists)
	assert.True(t, freshExists)
}

func TestKeyedLimiter_ConcurrentAllow(t *testing.T) {
	limiter := NewKeyedLimiter(50, time.Hour, time.Minute)
	limiter.StartCleanup(10 * time.Millisecond)
	defer limiter.Stop()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	limiter.Stop()
}
