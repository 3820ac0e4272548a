// Package router hosts the application event loop. It drains the shared
// queue fed by both connection engines, projects telemetry into the
// printer state, relays status and lifecycle reports to the cloud and
// dispatches remote commands back to the printer host.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/config"
	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/metric"
	"github.com/printwatch/moonraker-bridge/internal/printer"
	"github.com/printwatch/moonraker-bridge/internal/snapshot"
	"github.com/printwatch/moonraker-bridge/internal/storage"
)

const queueCapacity = 1000

// Completion markers posted back into the own queue by async tasks.
const (
	nameDownloadDone = "download_and_print_done"
	nameSnapshotDone = "post_snapshot_done"
)

// PrinterClient is the slice of the printer-host connection the router
// drives.
type PrinterClient interface {
	Ready() bool
	RequestStatusUpdate() int64
	RequestPause() int64
	RequestCancel() int64
	RequestResume() int64
	RequestJog(axes map[string]float64, isRelative bool, feedrate int) int64
	RequestHome(axes []string) int64
	UploadGcode(filename, path string, content []byte) (map[string]any, error)
}

// CloudClient is the slice of the cloud connection the router drives.
type CloudClient interface {
	Ready() bool
	SendStatusUpdate(data map[string]any)
	SendPassthru(payload map[string]any)
	PostSnapshot(pic []byte) error
}

// Journal persists job history and lifecycle transitions. Optional.
type Journal interface {
	UpsertJob(ctx context.Context, job storage.PrintJob) error
	RecordLifecycleEvent(ctx context.Context, ev storage.LifecycleEvent) error
}

// Options wires the router's collaborators.
type Options struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	Printer   PrinterClient
	Cloud     CloudClient
	Journal   Journal
	Snapshots snapshot.Source
	SessionID string
}

// App is the single consumer of the shared event queue. All handler
// methods run on the Run goroutine; cross-goroutine state is guarded.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metric.Metrics
	printer   PrinterClient
	cloud     CloudClient
	journal   Journal
	snapshots snapshot.Source
	sessionID string

	state *printer.State
	queue chan event.Event

	pending  *pendingAcks
	seenRefs *refRing

	mu            sync.Mutex
	remoteStatus  map[string]any
	linkedPrinter map[string]any

	downloading   atomic.Bool
	statusBooster atomic.Int32
	lastStatusAt  atomic.Int64

	forceSnapshot chan struct{}

	shutdown atomic.Bool
	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

func New(opts Options) *App {
	return &App{
		cfg:           opts.Config,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		printer:       opts.Printer,
		cloud:         opts.Cloud,
		journal:       opts.Journal,
		snapshots:     opts.Snapshots,
		sessionID:     opts.SessionID,
		state:         printer.NewState(),
		queue:         make(chan event.Event, queueCapacity),
		pending:       newPendingAcks(ackTTL),
		seenRefs:      newRefRing(100),
		remoteStatus:  map[string]any{"viewing": false, "should_watch": false},
		forceSnapshot: make(chan struct{}, 1),
		stopped:       make(chan struct{}),
	}
}

// State exposes the printer projection for read-only consumers.
func (a *App) State() *printer.State { return a.state }

// LinkedPrinter returns the identity reported by the cloud, nil before
// the first cloud handshake.
func (a *App) LinkedPrinter() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.linkedPrinter
}

// PushEvent enqueues an event from a connection engine or an async task.
// Overflow drops the event so producers never block.
func (a *App) PushEvent(ev event.Event) bool {
	if a.shutdown.Load() {
		return false
	}
	select {
	case a.queue <- ev:
		return true
	default:
		a.logger.Error("app queue is full, dropping event", "event", ev.Name, "sender", ev.Sender)
		if a.metrics != nil {
			a.metrics.EventDropped("app")
		}
		return false
	}
}

// BoostStatus temporarily raises the status-push cadence.
func (a *App) BoostStatus() {
	a.statusBooster.Store(statusBoostShots)
}

// Run drains the queue until a shutdown or fatal event arrives or ctx is
// cancelled. The returned error is the fatal cause, nil on clean stop.
func (a *App) Run(ctx context.Context) error {
	go a.schedulerLoop(ctx)
	go a.snapshotLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			a.stop(nil)
			return a.stopErr
		case <-a.stopped:
			return a.stopErr
		case ev := <-a.queue:
			if a.metrics != nil {
				sender := ev.Sender
				if sender == "" {
					sender = "app"
				}
				a.metrics.EventsReceived.WithLabelValues(sender).Inc()
			}
			a.processEvent(ctx, ev)
			if a.shutdown.Load() {
				return a.stopErr
			}
		}
	}
}

func (a *App) stop(cause error) {
	a.stopOnce.Do(func() {
		a.stopErr = cause
		a.shutdown.Store(true)
		close(a.stopped)
	})
}

func (a *App) processEvent(ctx context.Context, ev event.Event) {
	switch {
	case ev.Name == event.NameFatalError:
		a.logger.Error("connection failed fatally", "sender", ev.Sender, "error", ev.Err)
		a.stop(ev.Err)

	case ev.Name == event.NameShutdown:
		a.stop(nil)

	case ev.Sender == event.SenderMoonraker:
		a.onPrinterEvent(ctx, ev)

	case ev.Sender == event.SenderCloud:
		a.onCloudEvent(ctx, ev)

	case ev.Name == nameDownloadDone:
		a.logger.Info("clearing downloading flag")
		a.downloading.Store(false)
		if ev.Err != nil {
			a.logger.Error("download and print failed", "error", ev.Err)
		}

	case ev.Name == nameSnapshotDone:
		a.logger.Debug("posting snapshot finished")
		if ev.Err != nil {
			a.logger.Error("snapshot post failed", "error", ev.Err)
		}
	}
}

func (a *App) onPrinterEvent(ctx context.Context, ev event.Event) {
	switch ev.Name {
	case event.NameDisconnected, event.NameConnectionError, event.NameKlippyGone:
		// degrade the projection to Offline until telemetry resumes
		a.receivedStatusUpdate(ctx, 0, map[string]any{})

	case event.SenderMoonraker + "_ready":
		a.printer.RequestStatusUpdate()

	case event.NameLastJob:
		a.receivedLastJob(ctx, ev.Data)

	case event.NameMessage:
		a.onPrinterMessage(ctx, ev)
	}
}

func (a *App) onPrinterMessage(ctx context.Context, ev event.Event) {
	if id := ev.ID(); id != 0 {
		if ref, ok := a.pending.Resolve(id, time.Now()); ok {
			a.ackPassthru(ref, ev)
			return
		}
	}

	switch {
	case ev.Data["error"] != nil:
		a.logger.Debug("error response from printer host", "data", ev.Data)

	case ev.Data["result"] == "ok":
		// action acknowledged, refresh the full state
		a.printer.RequestStatusUpdate()

	case ev.Method() == "notify_status_update":
		a.printer.RequestStatusUpdate()

	case ev.Method() == "notify_history_changed":
		params, _ := ev.Data["params"].([]any)
		for _, raw := range params {
			item, _ := raw.(map[string]any)
			a.receivedJobAction(ctx, item)
		}
		a.printer.RequestStatusUpdate()

	default:
		if result := ev.Result(); result != nil {
			if status, ok := result["status"].(map[string]any); ok {
				eventtime, _ := result["eventtime"].(float64)
				a.receivedStatusUpdate(ctx, eventtime, status)
			}
		}
	}
}

// receivedStatusUpdate feeds a full telemetry snapshot into the projection
// and reports any resulting lifecycle transitions.
func (a *App) receivedStatusUpdate(ctx context.Context, eventtime float64, status map[string]any) {
	res := a.state.Update(eventtime, status, time.Now())
	if res.StateChanged {
		a.logger.Info("printer state changed",
			"prev", string(res.Prev), "next", string(res.Next))
		a.BoostStatus()
	}
	filename := a.state.CurrentFilename()
	for _, le := range res.Events {
		a.logger.Info("print event", "event", string(le), "print_ts", res.PrintTs)
		if a.metrics != nil {
			a.metrics.LifecycleEvents.WithLabelValues(string(le)).Inc()
		}
		if a.journal != nil {
			err := a.journal.RecordLifecycleEvent(ctx, storage.LifecycleEvent{
				Event:    string(le),
				Filename: filename,
				PrintTs:  res.PrintTs,
			})
			if err != nil {
				a.logger.Error("recording lifecycle event failed", "error", err)
			}
		}
		a.postPrintEvent(le, res.PrintTs)
	}
}

// postPrintEvent pushes a lifecycle transition to the cloud. Transitions
// without a known print start timestamp are suppressed.
func (a *App) postPrintEvent(le printer.LifecycleEvent, printTs int64) {
	if printTs == -1 {
		return
	}
	a.postStatus(le)
}

// postStatus sends the current projection to the cloud, optionally tagged
// with a lifecycle event.
func (a *App) postStatus(le printer.LifecycleEvent) {
	a.lastStatusAt.Store(time.Now().Unix())
	a.cloud.SendStatusUpdate(a.state.ToStatusPayload(printer.StatusOptions{
		Event:     le,
		SessionID: a.sessionID,
	}))
	if a.metrics != nil {
		a.metrics.StatusPushes.Inc()
	}
}

func (a *App) receivedLastJob(ctx context.Context, job map[string]any) {
	a.logger.Info("received last job", "job", job)
	a.state.SetLastJob(job)
	a.persistJob(ctx, job)
}

func (a *App) receivedJobAction(ctx context.Context, item map[string]any) {
	job, _ := item["job"].(map[string]any)
	if job == nil {
		return
	}
	a.logger.Info("received job update", "job", job)
	a.state.SetLastJob(job)
	a.persistJob(ctx, job)
}

func (a *App) persistJob(ctx context.Context, job map[string]any) {
	if a.journal == nil || job == nil {
		return
	}
	jobID, _ := job["job_id"].(string)
	if jobID == "" {
		return
	}
	filename, _ := job["filename"].(string)
	state, _ := job["state"].(string)
	rec := storage.PrintJob{JobID: jobID, Filename: filename, State: state}
	if ts, ok := job["start_time"].(float64); ok && ts > 0 {
		v := int64(ts)
		rec.StartedAt = &v
	}
	if ts, ok := job["end_time"].(float64); ok && ts > 0 {
		v := int64(ts)
		rec.EndedAt = &v
	}
	if err := a.journal.UpsertJob(ctx, rec); err != nil {
		a.logger.Error("persisting job failed", "error", err, "job_id", jobID)
	}
}

func (a *App) onCloudEvent(ctx context.Context, ev event.Event) {
	switch ev.Name {
	case event.SenderCloud + "_ready":
		a.postStatus("")
		a.requestSnapshot()

	case event.NameLinkedPrinter:
		a.logger.Info("linked printer", "printer", ev.Data)
		a.mu.Lock()
		a.linkedPrinter = ev.Data
		a.mu.Unlock()

	case event.NameMessage:
		a.processServerMessage(ctx, ev.Data)
	}
}

func (a *App) processServerMessage(ctx context.Context, msg map[string]any) {
	a.logger.Debug("received from server", "msg", msg)
	needBoost := false

	if remote, ok := msg["remote_status"].(map[string]any); ok {
		a.mu.Lock()
		for k, v := range remote {
			a.remoteStatus[k] = v
		}
		viewing, _ := a.remoteStatus["viewing"].(bool)
		a.mu.Unlock()
		if viewing {
			a.requestSnapshot()
		}
		needBoost = true
	}

	if commands, ok := msg["commands"].([]any); ok {
		needBoost = true
		for _, raw := range commands {
			command, _ := raw.(map[string]any)
			switch command["cmd"] {
			case "pause":
				a.printer.RequestPause()
			case "cancel":
				a.printer.RequestCancel()
			case "resume":
				a.printer.RequestResume()
			}
		}
	}

	if passthru, ok := msg["passthru"].(map[string]any); ok {
		needBoost = true
		a.handlePassthru(ctx, passthru)
	}

	if needBoost {
		a.BoostStatus()
	}
}

// remoteWantsFrames reports whether anyone on the cloud side is actively
// watching or expects frequent snapshots.
func (a *App) remoteWantsFrames() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	viewing, _ := a.remoteStatus["viewing"].(bool)
	shouldWatch, _ := a.remoteStatus["should_watch"].(bool)
	return viewing || shouldWatch
}
