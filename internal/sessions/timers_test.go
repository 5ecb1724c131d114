package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expiries struct {
	mu    sync.Mutex
	fired []int64
	names []string
}

func (e *expiries) record(chatID int64, username string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired = append(e.fired, chatID)
	e.names = append(e.names, username)
}

func (e *expiries) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fired)
}

func TestTimers_FiresOnceAfterTimeout(t *testing.T) {
	var e expiries
	tm := NewTimers(30*time.Millisecond, e.record)

	tm.Start(1, "alice")
	assert.True(t, tm.Active(1))

	require.Eventually(t, func() bool { return e.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, e.count())
	assert.Equal(t, []string{"alice"}, e.names)
	assert.False(t, tm.Active(1))
	assert.False(t, tm.Touch(1))
}

func TestTimers_TouchPostponesExpiry(t *testing.T) {
	var e expiries
	tm := NewTimers(80*time.Millisecond, e.record)
	tm.Start(1, "alice")

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		require.True(t, tm.Touch(1))
	}
	assert.Zero(t, e.count(), "touched timer must not fire")

	require.Eventually(t, func() bool { return e.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTimers_StopAndStopAll(t *testing.T) {
	var e expiries
	tm := NewTimers(20*time.Millisecond, e.record)

	tm.Start(1, "a")
	tm.Start(2, "b")
	tm.Start(3, "c")
	tm.Stop(1)
	tm.Stop(99)
	tm.StopAll()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, e.count())
	assert.False(t, tm.Active(2))
}

func TestTimers_RestartReplacesUsername(t *testing.T) {
	var e expiries
	tm := NewTimers(20*time.Millisecond, e.record)

	tm.Start(1, "old")
	tm.Start(1, "new")

	require.Eventually(t, func() bool { return e.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, []string{"new"}, e.names)
}

func TestTimers_StartWithinNegativeFiresImmediately(t *testing.T) {
	var e expiries
	tm := NewTimers(time.Hour, e.record)
	assert.Equal(t, time.Hour, tm.Timeout())

	tm.StartWithin(5, "late", -time.Minute)
	require.Eventually(t, func() bool { return e.count() == 1 }, time.Second, 5*time.Millisecond)
}
