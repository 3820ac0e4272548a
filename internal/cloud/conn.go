// Package cloud maintains the connection to the remote service: a
// bidirectional WebSocket carrying JSON (or compact binary) messages, plus
// REST endpoints for the linked-printer record and artifact posting.
package cloud

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/printwatch/moonraker-bridge/internal/config"
	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/flow"
	"github.com/printwatch/moonraker-bridge/internal/wsconn"
)

const (
	stepTimeout = 5000 * time.Millisecond
	maxBackoff  = 300 * time.Second
)

// Conn supervises the cloud connection.
type Conn struct {
	*flow.Engine

	cfg        config.Cloud
	logger     *slog.Logger
	httpClient *http.Client

	// SessionID tags this agent process in outbound payloads.
	SessionID string
}

func New(cfg config.Cloud, onEvent func(event.Event) bool, observer flow.Observer, logger *slog.Logger) *Conn {
	c := &Conn{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		SessionID:  uuid.NewString(),
	}
	backoff := flow.NewBackoff(maxBackoff, 0, logger)
	c.Engine = flow.NewEngine(event.SenderCloud, stepTimeout, backoff, onEvent, observer, logger)
	return c
}

// Flow runs one full connection attempt: linked-printer fetch, socket
// connect, then event forwarding until the session ends.
func (c *Conn) Flow() error {
	c.DrainStale()
	c.Timer().Reset(flow.NoDeadline)
	c.ClearReady()

	c.logger.Debug("fetching linked printer")
	linked, err := c.GetLinkedPrinter()
	if err != nil {
		return err
	}
	c.Emit(event.Event{Sender: c.ID, Name: event.NameLinkedPrinter, Data: linked})

	header := http.Header{}
	header.Set("authorization", "bearer "+c.cfg.AuthToken)
	conn := wsconn.New(wsconn.Options{
		ID:      c.ID,
		URL:     c.cfg.WSURL(),
		Header:  header,
		OnEvent: c.PushEvent,
		Logger:  c.logger.With("conn", c.ID),
	})
	c.SetConn(conn)
	conn.Start()

	c.logger.Debug("waiting for connection")
	if err := c.WaitStep(func(ev event.Event) bool { return ev.Name == event.NameConnected }); err != nil {
		return err
	}

	c.SetReady()
	c.logger.Info("connection is ready")
	c.Emit(event.Event{Sender: c.ID, Name: c.ID + "_ready", Data: map[string]any{}})

	return c.Forward(c.Emit)
}

// SendStatusUpdate ships a status payload over the socket. Dropped silently
// while the connection is not ready.
func (c *Conn) SendStatusUpdate(data map[string]any) {
	if !c.Ready() {
		return
	}
	if conn := c.Conn(); conn != nil {
		conn.Send(data, false)
	}
}

// SendPassthru ships a passthrough acknowledgement or result.
func (c *Conn) SendPassthru(payload map[string]any) {
	if !c.Ready() {
		return
	}
	if conn := c.Conn(); conn != nil {
		conn.Send(map[string]any{"passthru": payload}, false)
	}
}

// SendBinary ships a compact binary frame for high-frequency or large
// payloads.
func (c *Conn) SendBinary(data map[string]any) {
	if !c.Ready() {
		return
	}
	if conn := c.Conn(); conn != nil {
		conn.Send(data, true)
	}
}
