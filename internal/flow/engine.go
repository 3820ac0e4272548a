package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/event"
)

const queueCapacity = 1000

// NoDeadline disables the step timer for a WaitFor call; the wait blocks
// until the predicate matches or a terminal event arrives.
const NoDeadline time.Duration = 0

// Transport is the duplex channel supervised by an Engine.
type Transport interface {
	Start()
	Send(payload any, binary bool)
	Close()
}

// Observer receives engine lifecycle signals, typically backed by metrics.
type Observer interface {
	EventDropped(conn string)
	ReconnectAttempt(conn string)
	ReadyChanged(conn string, ready bool)
}

// Engine is the generic connection supervisor: a bounded inbound event
// queue, a step-wait primitive with timeout and error classification, and a
// reconnect loop with exponential backoff. Connection-specific handshakes
// are expressed as a flow func run by Run; WaitFor reports terminal
// conditions as typed errors consumed by an explicit switch.
type Engine struct {
	ID          string
	StepTimeout time.Duration

	logger   *slog.Logger
	onEvent  func(event.Event) bool
	observer Observer
	queue    chan event.Event
	timer    *Timer
	backoff  *Backoff

	shutdown atomic.Bool
	ready    atomic.Bool

	mu        sync.Mutex
	conn      Transport
	intercept func(event.Event) error
}

func NewEngine(id string, stepTimeout time.Duration, backoff *Backoff, onEvent func(event.Event) bool, observer Observer, logger *slog.Logger) *Engine {
	e := &Engine{
		ID:          id,
		StepTimeout: stepTimeout,
		logger:      logger,
		onEvent:     onEvent,
		observer:    observer,
		queue:       make(chan event.Event, queueCapacity),
		backoff:     backoff,
	}
	e.timer = NewTimer(e.PushEvent)
	return e
}

// Timer exposes the engine's step timer to connection flows.
func (e *Engine) Timer() *Timer { return e.timer }

// PushEvent enqueues an inbound event. Overflow drops the event with a log
// line rather than blocking the producer.
func (e *Engine) PushEvent(ev event.Event) bool {
	if e.shutdown.Load() {
		e.logger.Debug("shut down, dropping event", "event", ev.Name)
		return false
	}
	select {
	case e.queue <- ev:
		return true
	default:
		e.logger.Error("event queue is full, dropping event", "event", ev.Name)
		if e.observer != nil {
			e.observer.EventDropped(e.ID)
		}
		return false
	}
}

// Emit forwards an event upward to the application router.
func (e *Engine) Emit(ev event.Event) {
	if e.shutdown.Load() {
		return
	}
	e.onEvent(ev)
}

// Ready reports whether the full handshake has completed on the current
// connection.
func (e *Engine) Ready() bool { return e.ready.Load() }

// SetReady marks the handshake complete and resets the reconnect backoff.
func (e *Engine) SetReady() {
	e.ready.Store(true)
	e.backoff.Reset()
	if e.observer != nil {
		e.observer.ReadyChanged(e.ID, true)
	}
}

// ClearReady resets the ready flag at the start of a handshake attempt or
// after a transport failure.
func (e *Engine) ClearReady() {
	if e.ready.Swap(false) && e.observer != nil {
		e.observer.ReadyChanged(e.ID, false)
	}
}

// IsShutdown reports whether Close was called. One-way.
func (e *Engine) IsShutdown() bool { return e.shutdown.Load() }

// SetConn installs the transport for the current connection attempt,
// closing any previous one.
func (e *Engine) SetConn(t Transport) {
	e.mu.Lock()
	prev := e.conn
	e.conn = t
	e.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Conn returns the current transport, nil before the first connect.
func (e *Engine) Conn() Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// SetIntercept installs a connection-specific event hook evaluated before
// the generic classification in WaitFor. Returning a non-nil error aborts
// the wait with that error.
func (e *Engine) SetIntercept(fn func(event.Event) error) {
	e.intercept = fn
}

// DrainStale discards events left queued by the previous connection
// attempt, so a dying transport's final frames cannot fail the fresh one.
// A queued shutdown sentinel stays observable.
func (e *Engine) DrainStale() {
	if e.shutdown.Load() {
		return
	}
	for {
		select {
		case ev := <-e.queue:
			if ev.Name == event.NameShutdown {
				e.shutdown.Store(true)
				e.queue <- ev
				return
			}
			e.logger.Debug("discarding stale event", "event", ev.Name)
		default:
			return
		}
	}
}

// Close pushes a shutdown event into the own queue so the next WaitFor
// observes it deterministically, then sets the one-way shutdown flag.
func (e *Engine) Close() {
	e.PushEvent(event.Event{Name: event.NameShutdown, Data: map[string]any{}})
	e.shutdown.Store(true)
}

// WaitFor arms the step timer for deadline (NoDeadline blocks indefinitely)
// and consumes queued events until pred matches or a terminal condition is
// observed. With loopForever the wait never returns on a match and only
// terminates through an error.
func (e *Engine) WaitFor(pred func(event.Event) bool, deadline time.Duration, loopForever bool) error {
	e.timer.Reset(deadline)

	for !e.shutdown.Load() {
		ev := <-e.queue
		matched, err := e.classify(ev, pred)
		if err != nil {
			return err
		}
		if matched && !loopForever {
			return nil
		}
	}
	return ErrShutdown
}

// WaitStep waits with the engine's default per-step timeout.
func (e *Engine) WaitStep(pred func(event.Event) bool) error {
	return e.WaitFor(pred, e.StepTimeout, false)
}

// Forward enters the loop-forever mode used once the connection is ready:
// every inbound event is handed to fn until a terminal event arrives.
func (e *Engine) Forward(fn func(event.Event)) error {
	return e.WaitFor(func(ev event.Event) bool {
		fn(ev)
		return false
	}, NoDeadline, true)
}

func (e *Engine) classify(ev event.Event, pred func(event.Event) bool) (bool, error) {
	if e.intercept != nil {
		if err := e.intercept(ev); err != nil {
			return false, err
		}
	}

	switch ev.Name {
	case event.NameShutdown:
		e.shutdown.Store(true)
		if conn := e.Conn(); conn != nil {
			conn.Close()
		}
		return false, ErrShutdown

	case event.NameConnectionError:
		e.ClearReady()
		e.Emit(ev)
		if IsAuthStatus(ev.Err) {
			return false, &FatalError{Message: e.ID + " failed to authenticate", Cause: ev.Err}
		}
		msg := "connection error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return false, &Error{Message: msg, Cause: ev.Err}

	case event.NameDisconnected:
		e.ClearReady()
		e.Emit(ev)
		return false, &Error{Message: "disconnected"}

	case event.NameTimeout:
		if ev.TimerGeneration() == e.timer.Generation() {
			return false, ErrTimeout
		}
		// superseded timer, ignore
		return false, nil
	}

	return pred(ev), nil
}

// Run drives the supervisory loop: attempt the full flow, back off and
// retry on transient failures, stop permanently on fatal errors or
// shutdown. A fatal error is reported upward as a fatal_error event; it is
// the router's call whether that ends the whole process.
func (e *Engine) Run(ctx context.Context, flow func() error) {
	for !e.shutdown.Load() && ctx.Err() == nil {
		err := flow()
		switch {
		case err == nil:
			continue

		case errors.Is(err, ErrShutdown):
			e.logger.Info("shutting down")
			return

		case errors.Is(err, ErrTimeout):
			e.logger.Error("flow step timed out, reconnecting")
			e.retry(ctx, err)

		case Retryable(err):
			e.logger.Error("flow failed, reconnecting", "err", err)
			e.retry(ctx, err)

		default:
			var fatal *FatalError
			if !errors.As(err, &fatal) {
				fatal = &FatalError{Message: "unrecoverable flow failure", Cause: err}
			}
			e.logger.Error("fatal flow error", "err", fatal)
			e.Emit(event.Event{Sender: e.ID, Name: event.NameFatalError, Data: map[string]any{}, Err: fatal})
			e.Close()
			return
		}
	}
}

func (e *Engine) retry(ctx context.Context, cause error) {
	if e.observer != nil {
		e.observer.ReconnectAttempt(e.ID)
	}
	if err := e.backoff.More(ctx, cause); err != nil && ctx.Err() == nil {
		// retries used up; escalate as fatal
		e.Emit(event.Event{
			Sender: e.ID,
			Name:   event.NameFatalError,
			Data:   map[string]any{},
			Err:    &FatalError{Message: "retry attempts exhausted", Cause: err},
		})
		e.Close()
	}
}
