package bothandler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateManagerCreatesAndRenews(t *testing.T) {
	sm := NewStateManager(time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }

	s := sm.Get(42)
	assert.Equal(t, stepIdle, s.Step)

	s.Step = stepNumber
	sm.Set(42, s)
	assert.Equal(t, stepNumber, sm.Get(42).Step, "session persists between updates")
}

func TestStateManagerGetHandsOutCopies(t *testing.T) {
	sm := NewStateManager(time.Minute)
	sm.Set(42, session{Step: stepType, Number: "12345"})

	s := sm.Get(42)
	s.Step = stepConfirm
	s.Number = "99999"

	kept := sm.Get(42)
	assert.Equal(t, stepType, kept.Step, "mutating the copy must not touch the stored session")
	assert.Equal(t, "12345", kept.Number)
}

func TestStateManagerConcurrentAccess(t *testing.T) {
	sm := NewStateManager(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := sm.Get(42)
			s.Year = n
			sm.Set(42, s)
			_ = sm.Get(42)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, stepIdle, sm.Get(42).Step)
}

func TestStateManagerExpires(t *testing.T) {
	sm := NewStateManager(time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }

	sm.Set(42, session{Step: stepConfirm})

	sm.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, stepIdle, sm.Get(42).Step, "expired session starts over")
}

func TestStateManagerCleanup(t *testing.T) {
	sm := NewStateManager(time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }

	sm.Get(1)
	sm.Get(2)

	sm.now = func() time.Time { return base.Add(2 * time.Minute) }
	sm.Get(3)
	sm.Cleanup()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	assert.Len(t, sm.sessions, 1)
	assert.Contains(t, sm.sessions, int64(3))
}

func TestStateManagerClear(t *testing.T) {
	sm := NewStateManager(time.Minute)
	sm.Set(42, session{Step: stepYear})
	sm.Clear(42)
	assert.Equal(t, stepIdle, sm.Get(42).Step)
}
