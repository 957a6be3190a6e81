// ABOUTME: Tests for the minimum-interval limiter.
// ABOUTME: Validates interval enforcement, non-refreshing denials, eviction, and concurrency safety.

package debounce

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_FirstAttemptAllowed(t *testing.T) {
	l := New(time.Second, 100)
	defer l.Close()

	assert.True(t, l.Allow("plan-1"))
}

func TestLimiter_SecondAttemptWithinIntervalDenied(t *testing.T) {
	l := New(time.Second, 100)
	defer l.Close()

	assert.True(t, l.Allow("plan-1"))
	assert.False(t, l.Allow("plan-1"))

	// Independent keys are unaffected.
	assert.True(t, l.Allow("plan-2"))
}

func TestLimiter_AllowedAfterInterval(t *testing.T) {
	l := New(20*time.Millisecond, 100)
	defer l.Close()

	assert.True(t, l.Allow("plan-1"))
	assert.False(t, l.Allow("plan-1"))

	time.Sleep(30 * time.Millisecond)

	assert.True(t, l.Allow("plan-1"))
}

func TestLimiter_DenialsDoNotRefresh(t *testing.T) {
	l := New(50*time.Millisecond, 100)
	defer l.Close()

	assert.True(t, l.Allow("plan-1"))

	// Hammering faster than the interval never extends the lockout.
	deadline := time.Now().Add(200 * time.Millisecond)
	allowed := 0
	for time.Now().Before(deadline) {
		if l.Allow("plan-1") {
			allowed++
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.GreaterOrEqual(t, allowed, 2)
}

func TestLimiter_EvictsOldestAtCapacity(t *testing.T) {
	l := New(time.Minute, 3)
	defer l.Close()

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.True(t, l.Allow("c"))

	// Inserting a fourth key evicts "a", so "a" is allowed again.
	assert.True(t, l.Allow("d"))
	assert.True(t, l.Allow("a"))

	// "c" is still tracked and still throttled.
	assert.False(t, l.Allow("c"))
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := New(time.Minute, 1000)
	defer l.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				l.Allow(fmt.Sprintf("key-%d-%d", n, j%10))
			}
		}(i)
	}
	wg.Wait()
}

func TestLimiter_CloseIsIdempotent(t *testing.T) {
	l := New(time.Second, 10)
	l.Close()
	l.Close()
}
