package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printwatch/moonraker-bridge/internal/event"
)

func TestTimerExpiryCarriesGeneration(t *testing.T) {
	events := make(chan event.Event, 10)
	timer := NewTimer(func(ev event.Event) bool {
		events <- ev
		return true
	})

	timer.Reset(20 * time.Millisecond)

	select {
	case ev := <-events:
		require.Equal(t, event.NameTimeout, ev.Name)
		require.Equal(t, timer.Generation(), ev.TimerGeneration())
	case <-time.After(time.Second):
		t.Fatal("timeout event never arrived")
	}
}

func TestTimerSupersededExpiryIsDropped(t *testing.T) {
	events := make(chan event.Event, 10)
	timer := NewTimer(func(ev event.Event) bool {
		events <- ev
		return true
	})

	timer.Reset(20 * time.Millisecond)
	timer.Reset(NoDeadline)

	select {
	case ev := <-events:
		t.Fatalf("superseded timer fired: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerOnlyLatestArmIsActionable(t *testing.T) {
	events := make(chan event.Event, 10)
	timer := NewTimer(func(ev event.Event) bool {
		events <- ev
		return true
	})

	timer.Reset(20 * time.Millisecond)
	timer.Reset(40 * time.Millisecond)
	latest := timer.Generation()

	time.Sleep(150 * time.Millisecond)

	require.Len(t, events, 1)
	ev := <-events
	require.Equal(t, latest, ev.TimerGeneration())
}
