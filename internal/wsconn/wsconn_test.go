package wsconn

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/flow"
)

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func collectEvents() (chan event.Event, func(event.Event) bool) {
	events := make(chan event.Event, 100)
	return events, func(ev event.Event) bool {
		events <- ev
		return true
	}
}

func nextEvent(t *testing.T, events chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event within deadline")
		return event.Event{}
	}
}

func TestConnRoundTrip(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"method":"notify_status_update"}`))

		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var payload map[string]any
		_ = json.Unmarshal(raw, &payload)
		received <- payload

		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	events, onEvent := collectEvents()
	conn := New(Options{
		ID:      "testconn",
		URL:     wsURL(server),
		OnEvent: onEvent,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	conn.Start()

	ev := nextEvent(t, events)
	require.Equal(t, event.NameConnected, ev.Name)
	require.Equal(t, "testconn", ev.Sender)

	ev = nextEvent(t, events)
	require.Equal(t, event.NameMessage, ev.Name)
	require.Equal(t, "notify_status_update", ev.Method())

	conn.Send(map[string]any{"jsonrpc": "2.0", "method": "printer.info", "id": 1}, false)
	select {
	case payload := <-received:
		require.Equal(t, "printer.info", payload["method"])
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the payload")
	}

	ev = nextEvent(t, events)
	require.Equal(t, event.NameDisconnected, ev.Name)

	conn.Close()
}

func TestConnIgnorePattern(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"method": "notify_proc_stat_update"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"method": "notify_klippy_ready"}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	events, onEvent := collectEvents()
	conn := New(Options{
		ID:            "testconn",
		URL:           wsURL(server),
		IgnorePattern: regexp.MustCompile(`"method": ?"notify_proc_stat_update"`),
		OnEvent:       onEvent,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	conn.Start()
	defer conn.Close()

	require.Equal(t, event.NameConnected, nextEvent(t, events).Name)

	ev := nextEvent(t, events)
	require.Equal(t, event.NameMessage, ev.Name)
	require.Equal(t, "notify_klippy_ready", ev.Method(), "filtered frame must never surface")
}

func TestConnDialRejectionCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	events, onEvent := collectEvents()
	conn := New(Options{
		ID:      "testconn",
		URL:     wsURL(server),
		OnEvent: onEvent,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	conn.Start()

	ev := nextEvent(t, events)
	require.Equal(t, event.NameConnectionError, ev.Name)
	require.True(t, flow.IsAuthStatus(ev.Err))
}

func TestConnBinaryFramesDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// echo whatever arrives so the bson round trip covers both sides
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.WriteMessage(msgType, raw)
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	events, onEvent := collectEvents()
	conn := New(Options{
		ID:      "testconn",
		URL:     wsURL(server),
		OnEvent: onEvent,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	conn.Start()
	defer conn.Close()

	require.Equal(t, event.NameConnected, nextEvent(t, events).Name)

	conn.Send(map[string]any{"kind": "snapshot", "seq": int64(7)}, true)

	ev := nextEvent(t, events)
	require.Equal(t, event.NameMessage, ev.Name)
	require.Equal(t, "snapshot", ev.Data["kind"])
	require.Equal(t, int64(7), toSeq(ev.Data["seq"]))
}

func toSeq(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return -1
	}
}
