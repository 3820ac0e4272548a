package router

import (
	"context"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/event"
)

// Recurring cadences. The booster divides the status interval by ten for
// a handful of ticks after anything interesting happened.
const (
	tickInterval           = time.Second
	telemetryTicks         = 10
	statusInterval         = 50 * time.Second
	statusBoostShots       = 20
	snapshotInterval       = 10 * time.Second
	idleSnapshotMultiplier = 12
)

// schedulerLoop drives the recurring lightweight tasks on a one second
// tick: telemetry re-queries, status pushes and snapshot requests.
func (a *App) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	tickCounter := 0
	lastSnapshotAt := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case <-ticker.C:
		}

		tickCounter++
		if tickCounter >= telemetryTicks {
			tickCounter = 0
			if a.printer.Ready() {
				a.printer.RequestStatusUpdate()
			}
		}

		now := time.Now()

		interval := statusInterval
		if shots := a.statusBooster.Load(); shots > 0 {
			a.statusBooster.Add(-1)
			interval /= 10
		}
		if now.Unix()-a.lastStatusAt.Load() > int64(interval.Seconds()) {
			a.postStatus("")
		}

		snapInterval := snapshotInterval
		if !a.state.IsPrinting() && !a.remoteWantsFrames() {
			snapInterval *= idleSnapshotMultiplier
		}
		if now.Sub(lastSnapshotAt) > snapInterval {
			lastSnapshotAt = now
			a.requestSnapshot()
		}
	}
}

// requestSnapshot nudges the snapshot loop; a request already in flight
// absorbs the nudge.
func (a *App) requestSnapshot() {
	if a.snapshots == nil || !a.snapshots.Configured() {
		return
	}
	select {
	case a.forceSnapshot <- struct{}{}:
	default:
	}
}

// snapshotLoop captures and posts webcam frames off the router goroutine,
// reporting completion back through the queue.
func (a *App) snapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case <-a.forceSnapshot:
		}

		if !a.cloud.Ready() {
			continue
		}

		err := a.postSnapshot(ctx)
		if err == nil && a.metrics != nil {
			a.metrics.SnapshotPosts.Inc()
		}
		a.PushEvent(event.Event{Name: nameSnapshotDone, Err: err})
	}
}

func (a *App) postSnapshot(ctx context.Context) error {
	a.logger.Debug("capturing and posting snapshot")
	pic, err := a.snapshots.Capture(ctx)
	if err != nil {
		return err
	}
	return a.cloud.PostSnapshot(pic)
}
