// Package wsconn owns one physical WebSocket connection per instance,
// translating inbound frames into events for a single consumer and
// delivering outbound payloads in the order enqueued. Failures are surfaced
// as connection_error events, never returned to Send callers.
package wsconn

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/flow"
)

const (
	outboundCapacity = 1000
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 20 * time.Second
	pongTimeout      = 60 * time.Second
)

type frame struct {
	payload  any
	binary   bool
	shutdown bool
}

// Options configure a connection.
type Options struct {
	ID           string
	URL          string
	Header       http.Header
	Subprotocols []string
	// IgnorePattern silences noisy inbound text frames before they reach
	// the consumer.
	IgnorePattern *regexp.Regexp
	OnEvent       func(event.Event) bool
	Logger        *slog.Logger
}

// Conn is a persistent duplex channel to one endpoint.
type Conn struct {
	opts     Options
	outbound chan frame
	shutdown atomic.Bool

	mu sync.Mutex
	ws *websocket.Conn
}

func New(opts Options) *Conn {
	return &Conn{opts: opts, outbound: make(chan frame, outboundCapacity)}
}

// Send enqueues a payload for transmission. Never blocks; a pathologically
// full queue drops the payload with a logged error.
func (c *Conn) Send(payload any, binary bool) {
	select {
	case c.outbound <- frame{payload: payload, binary: binary}:
	default:
		c.opts.Logger.Error("sending queue is full, dropping payload")
	}
}

// Close enqueues a shutdown sentinel; the sender loop closes the socket and
// terminates when it reaches it.
func (c *Conn) Close() {
	c.shutdown.Store(true)
	select {
	case c.outbound <- frame{shutdown: true}:
	default:
		c.opts.Logger.Error("sending queue is full, closing socket directly")
		c.closeSocket()
	}
}

// Start launches the sender loop in the background.
func (c *Conn) Start() {
	go c.senderLoop()
}

func (c *Conn) emit(ev event.Event) {
	if c.shutdown.Load() {
		return
	}
	c.opts.OnEvent(ev)
}

func (c *Conn) senderLoop() {
	c.opts.Logger.Info("connecting", "url", c.opts.URL)
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     c.opts.Subprotocols,
	}
	ws, resp, err := dialer.Dial(c.opts.URL, c.opts.Header)
	if err != nil {
		c.emit(event.Event{
			Sender: c.opts.ID,
			Name:   event.NameConnectionError,
			Data:   map[string]any{},
			Err:    dialError(resp, err),
		})
		return
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	c.emit(event.Event{Sender: c.opts.ID, Name: event.NameConnected, Data: map[string]any{}})
	go c.readLoop(ws)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.outbound:
			if f.shutdown {
				c.closeSocket()
				return
			}
			if err := c.write(ws, f); err != nil {
				c.opts.Logger.Warn("send failed", "err", err)
				c.closeSocket()
				c.emit(event.Event{
					Sender: c.opts.ID,
					Name:   event.NameConnectionError,
					Data:   map[string]any{},
					Err:    err,
				})
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.opts.Logger.Warn("ping failed", "err", err)
				c.closeSocket()
				return
			}
		}
	}
}

func (c *Conn) write(ws *websocket.Conn, f frame) error {
	var raw []byte
	var msgType int
	var err error
	if f.binary {
		raw, err = bson.Marshal(f.payload)
		msgType = websocket.BinaryMessage
	} else {
		raw, err = json.Marshal(f.payload)
		msgType = websocket.TextMessage
	}
	if err != nil {
		c.opts.Logger.Error("unable to encode payload", "err", err)
		return nil
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(msgType, raw)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			if c.shutdown.Load() {
				return
			}
			if isClosed(err) {
				c.opts.Logger.Debug("connection closed")
				c.emit(event.Event{Sender: c.opts.ID, Name: event.NameDisconnected, Data: map[string]any{}})
			} else {
				c.opts.Logger.Debug("connection error", "err", err)
				c.emit(event.Event{
					Sender: c.opts.ID,
					Name:   event.NameConnectionError,
					Data:   map[string]any{},
					Err:    err,
				})
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))

		if msgType == websocket.TextMessage && c.opts.IgnorePattern != nil && c.opts.IgnorePattern.Match(raw) {
			continue
		}

		data, err := decode(msgType, raw)
		if err != nil {
			c.opts.Logger.Warn("dropping undecodable frame", "err", err)
			continue
		}
		c.emit(event.Event{Sender: c.opts.ID, Name: event.NameMessage, Data: data})
	}
}

func decode(msgType int, raw []byte) (map[string]any, error) {
	if msgType == websocket.BinaryMessage {
		var doc bson.M
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return map[string]any(doc), nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Conn) closeSocket() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

func dialError(resp *http.Response, err error) error {
	if resp != nil {
		return &flow.StatusError{Code: resp.StatusCode, Cause: err}
	}
	return err
}

func isClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent)
}
