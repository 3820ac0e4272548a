// Package moonraker maintains the connection to the local printer host: a
// JSON-RPC WebSocket with a multi-step handshake, plus a small REST surface
// for one-shot operations (API key bootstrap, g-code upload).
package moonraker

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/config"
	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/flow"
	"github.com/printwatch/moonraker-bridge/internal/wsconn"
)

const (
	stepTimeout  = 2000 * time.Millisecond
	readyTimeout = 60 * time.Second
	maxBackoff   = 30 * time.Second
)

// errKlippyGone signals that the printer host lost contact with the
// firmware. It restarts only the inner "wait for klipper ready" loop, not
// the full handshake, and leaves the backoff counter untouched.
var errKlippyGone = errors.New("moonraker: klippy disconnected")

// proc stat notifications arrive several times a second and are never
// consumed; filter them out before they reach the queue.
var procStatPattern = regexp.MustCompile(`"method": ?"notify_proc_stat_update"`)

// Conn supervises the printer-host connection.
type Conn struct {
	*flow.Engine

	cfg        config.Moonraker
	logger     *slog.Logger
	httpClient *http.Client
	nextID     atomic.Int64

	mu          sync.Mutex
	heaters     []string
	objects     []string
	websocketID int64
}

func New(cfg config.Moonraker, onEvent func(event.Event) bool, observer flow.Observer, logger *slog.Logger) *Conn {
	c := &Conn{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	backoff := flow.NewBackoff(maxBackoff, 0, logger)
	c.Engine = flow.NewEngine(event.SenderMoonraker, stepTimeout, backoff, onEvent, observer, logger)
	c.Engine.SetIntercept(c.intercept)
	return c
}

// WebsocketID returns the server-assigned connection identifier of the
// current session, 0 while disconnected.
func (c *Conn) WebsocketID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.websocketID
}

// Heaters returns the heater names discovered during the handshake.
func (c *Conn) Heaters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.heaters))
	copy(out, c.heaters)
	return out
}

func (c *Conn) intercept(ev event.Event) error {
	if ev.Method() == "notify_klippy_disconnected" {
		c.Emit(event.Event{Sender: c.ID, Name: event.NameKlippyGone, Data: map[string]any{}})
		return errKlippyGone
	}
	return nil
}

// Flow runs one full connection attempt: credential bootstrap, socket
// connect, ordered handshake, then event forwarding until the connection
// fails. Driven repeatedly by the engine's Run loop.
func (c *Conn) Flow() error {
	c.DrainStale()
	c.Timer().Reset(flow.NoDeadline)
	c.ClearReady()
	c.mu.Lock()
	c.websocketID = 0
	c.mu.Unlock()

	if err := c.ensureAPIKey(); err != nil {
		return err
	}

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-Api-Key", c.cfg.APIKey)
	}
	conn := wsconn.New(wsconn.Options{
		ID:            c.ID,
		URL:           c.cfg.WSURL(),
		Header:        header,
		IgnorePattern: procStatPattern,
		OnEvent:       c.PushEvent,
		Logger:        c.logger.With("conn", c.ID),
	})
	c.SetConn(conn)
	conn.Start()

	c.logger.Debug("waiting for connection")
	if err := c.WaitStep(receivedConnected); err != nil {
		return err
	}

	c.logger.Debug("requesting websocket id")
	c.RequestWebsocketID()
	if err := c.WaitStep(c.receivedWebsocketID); err != nil {
		return err
	}

	for {
		err := c.klippyReadyFlow()
		if errors.Is(err, errKlippyGone) {
			c.logger.Warn("klipper got disconnected")
			continue
		}
		return err
	}
}

// klippyReadyFlow waits for the firmware to report ready, completes the
// remaining handshake steps and forwards events until the session ends.
func (c *Conn) klippyReadyFlow() error {
	c.logger.Info("waiting for klipper ready")
	c.ClearReady()

	// the printer host answers while the firmware is still booting; keep
	// re-asking on a long deadline until it reports ready
	for {
		rid := c.RequestPrinterInfo()
		err := c.WaitFor(c.receivedPrinterReady(rid), readyTimeout, false)
		if err == nil {
			break
		}
		if errors.Is(err, flow.ErrTimeout) {
			continue
		}
		return err
	}

	c.logger.Debug("requesting printer objects")
	c.RequestPrinterObjects()
	if err := c.WaitStep(c.receivedPrinterObjects); err != nil {
		return err
	}

	c.logger.Debug("requesting heaters")
	c.RequestHeaters()
	if err := c.WaitStep(c.receivedHeaters); err != nil {
		return err
	}

	c.logger.Debug("subscribing")
	subID := c.RequestSubscribe(nil)
	if err := c.WaitStep(receivedReplyFor(subID)); err != nil {
		return err
	}

	c.logger.Debug("requesting last job")
	c.RequestJobList("desc", 1)
	if err := c.WaitStep(c.receivedLastJob); err != nil {
		return err
	}

	c.SetReady()
	c.logger.Info("connection is ready")
	c.Emit(event.Event{Sender: c.ID, Name: c.ID + "_ready", Data: map[string]any{}})

	return c.Forward(c.Emit)
}

func receivedConnected(ev event.Event) bool {
	return ev.Name == event.NameConnected
}

func (c *Conn) receivedWebsocketID(ev event.Event) bool {
	result := ev.Result()
	if result == nil {
		return false
	}
	id, ok := result["websocket_id"]
	if !ok {
		return false
	}
	c.mu.Lock()
	c.websocketID = toInt64(id)
	c.mu.Unlock()
	return true
}

func (c *Conn) receivedPrinterReady(rid int64) func(event.Event) bool {
	return func(ev event.Event) bool {
		if ev.Method() == "notify_klippy_ready" {
			return true
		}
		result := ev.Result()
		return result != nil && result["state"] == "ready" && ev.ID() == rid
	}
}

func (c *Conn) receivedPrinterObjects(ev event.Event) bool {
	result := ev.Result()
	if result == nil {
		return false
	}
	raw, ok := result["objects"].([]any)
	if !ok {
		return false
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	c.mu.Lock()
	c.objects = names
	c.mu.Unlock()
	c.logger.Info("printer objects", "objects", names)
	return true
}

func (c *Conn) receivedHeaters(ev event.Event) bool {
	result := ev.Result()
	if result == nil {
		return false
	}
	status, _ := result["status"].(map[string]any)
	heaters, _ := status["heaters"].(map[string]any)
	raw, ok := heaters["available_heaters"].([]any)
	if !ok {
		return false
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	c.mu.Lock()
	c.heaters = names
	c.mu.Unlock()
	c.logger.Info("heaters", "heaters", names)
	return true
}

func receivedReplyFor(id int64) func(event.Event) bool {
	return func(ev event.Event) bool {
		_, hasResult := ev.Data["result"]
		return hasResult && ev.ID() == id
	}
}

func (c *Conn) receivedLastJob(ev event.Event) bool {
	result := ev.Result()
	if result == nil {
		return false
	}
	raw, ok := result["jobs"]
	if !ok {
		return false
	}
	var job map[string]any
	if jobs, ok := raw.([]any); ok && len(jobs) > 0 {
		job, _ = jobs[0].(map[string]any)
	}
	if job == nil {
		job = map[string]any{}
	}
	c.Emit(event.Event{Sender: c.ID, Name: event.NameLastJob, Data: job})
	return true
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
