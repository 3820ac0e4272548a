package flow

import (
	"sync"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/event"
)

// Timer is a cancellable single-shot step deadline. Every Reset bumps a
// generation counter; an expiry whose captured generation no longer matches
// the current one is silently discarded, so at most the latest armed timer
// is ever actionable.
type Timer struct {
	mu        sync.Mutex
	gen       int64
	pushEvent func(event.Event) bool
}

func NewTimer(pushEvent func(event.Event) bool) *Timer {
	return &Timer{pushEvent: pushEvent}
}

// Reset arms the timer for d, superseding any earlier arm. A zero duration
// disables expiry, used while a wait with its own deadline is active.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if d <= 0 {
		return
	}
	time.AfterFunc(d, func() {
		t.mu.Lock()
		live := t.gen == gen
		t.mu.Unlock()
		if !live {
			return
		}
		t.pushEvent(event.Event{
			Name: event.NameTimeout,
			Data: map[string]any{"timer_id": gen},
		})
	})
}

// Generation returns the current generation id, matched against the
// timer_id carried by timeout events.
func (t *Timer) Generation() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}
