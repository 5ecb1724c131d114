package sessions

import (
	"sync"
	"time"
)

// ExpiryFunc runs once when a chat stays idle for the whole timeout.
type ExpiryFunc func(chatID int64, username string)

// Timers holds one inactivity timer per authenticated chat.
type Timers struct {
	mu       sync.Mutex
	timeout  time.Duration
	onExpire ExpiryFunc
	entries  map[int64]*timerEntry
	seq      uint64
}

type timerEntry struct {
	timer    *time.Timer
	username string
	id       uint64
}

func NewTimers(timeout time.Duration, onExpire ExpiryFunc) *Timers {
	return &Timers{
		timeout:  timeout,
		onExpire: onExpire,
		entries:  make(map[int64]*timerEntry),
	}
}

// Timeout is the idle period after which a chat expires.
func (t *Timers) Timeout() time.Duration { return t.timeout }

// Start arms (or re-arms) the timer of chatID for the full timeout.
func (t *Timers) Start(chatID int64, username string) {
	t.StartWithin(chatID, username, t.timeout)
}

// StartWithin arms the timer of chatID to fire after d. Used at startup to
// honor the time a restored session has left.
func (t *Timers) StartWithin(chatID int64, username string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armLocked(chatID, username, d)
}

func (t *Timers) armLocked(chatID int64, username string, d time.Duration) {
	if e, ok := t.entries[chatID]; ok {
		e.timer.Stop()
	}
	if d < 0 {
		d = 0
	}
	t.seq++
	id := t.seq
	e := &timerEntry{username: username, id: id}
	e.timer = time.AfterFunc(d, func() { t.fire(chatID, id) })
	t.entries[chatID] = e
}

func (t *Timers) fire(chatID int64, id uint64) {
	t.mu.Lock()
	e, ok := t.entries[chatID]
	// a Touch or Stop may have raced with this callback
	if !ok || e.id != id {
		t.mu.Unlock()
		return
	}
	delete(t.entries, chatID)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(chatID, e.username)
	}
}

// Touch restarts the timer of chatID. It reports false when the chat has
// no timer.
func (t *Timers) Touch(chatID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[chatID]
	if !ok {
		return false
	}
	t.armLocked(chatID, e.username, t.timeout)
	return true
}

func (t *Timers) Stop(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[chatID]; ok {
		e.timer.Stop()
		delete(t.entries, chatID)
	}
}

// StopAll cancels every timer without running callbacks.
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, id)
	}
}

// Active reports whether chatID has a pending timer.
func (t *Timers) Active(chatID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[chatID]
	return ok
}
