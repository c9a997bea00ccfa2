package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_StartsFrozen(t *testing.T) {
	clock := NewFakeClock(t0)
	assert.Equal(t, t0, clock.Now())
	assert.Equal(t, t0, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(t0)

	assert.Equal(t, t0.Add(time.Minute), clock.Advance(time.Minute))
	assert.Equal(t, t0.Add(time.Minute), clock.Now())
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(t0)
	later := t0.Add(48 * time.Hour)

	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(t0)
	const goroutines = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, t0.Add(goroutines*time.Second), clock.Now())
}
