package cloud

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/printwatch/moonraker-bridge/internal/config"
	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/flow"
)

func newTestCloud(t *testing.T, serverURL, token string) *Conn {
	t.Helper()
	return New(config.Cloud{URL: serverURL, AuthToken: token},
		func(event.Event) bool { return true }, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetLinkedPrinter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/octo/printer/", r.URL.Path)
		require.Equal(t, "Token secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"printer": map[string]any{"name": "voron", "id": 7.0},
		})
	}))
	defer server.Close()

	conn := newTestCloud(t, server.URL, "secret")
	printer, err := conn.GetLinkedPrinter()

	require.NoError(t, err)
	require.Equal(t, "voron", printer["name"])
}

func TestGetLinkedPrinterAuthRejectionIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	conn := newTestCloud(t, server.URL, "bad-token")
	_, err := conn.GetLinkedPrinter()

	var fatal *flow.FatalError
	require.ErrorAs(t, err, &fatal)
	require.False(t, flow.Retryable(err))
}

func TestGetLinkedPrinterServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	conn := newTestCloud(t, server.URL, "secret")
	_, err := conn.GetLinkedPrinter()

	require.Error(t, err)
	require.True(t, flow.Retryable(err))
}

func TestGetLinkedPrinterWithoutToken(t *testing.T) {
	conn := newTestCloud(t, "http://localhost:1", "")
	_, err := conn.GetLinkedPrinter()

	require.Error(t, err)
	require.True(t, flow.Retryable(err))
}

func TestPostSnapshot(t *testing.T) {
	var gotPic []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/octo/pic/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("pic")
		require.NoError(t, err)
		defer file.Close()
		gotPic, err = io.ReadAll(file)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := newTestCloud(t, server.URL, "secret")
	require.NoError(t, conn.PostSnapshot([]byte{0xff, 0xd8, 0xff}))
	require.Equal(t, []byte{0xff, 0xd8, 0xff}, gotPic)
}

func TestSendGuardsOnReadiness(t *testing.T) {
	conn := newTestCloud(t, "http://localhost:1", "secret")
	transport := &captureTransport{}
	conn.SetConn(transport)

	conn.SendStatusUpdate(map[string]any{"x": 1})
	require.Empty(t, transport.sent, "sends before ready must be dropped")

	conn.SetReady()
	conn.SendStatusUpdate(map[string]any{"x": 1})
	conn.SendPassthru(map[string]any{"ref": "r"})
	require.Len(t, transport.sent, 2)

	wrapped, _ := transport.sent[1].(map[string]any)
	require.Contains(t, wrapped, "passthru")
}

type captureTransport struct {
	sent []any
}

func (c *captureTransport) Start() {}

func (c *captureTransport) Send(payload any, binary bool) {
	c.sent = append(c.sent, payload)
}

func (c *captureTransport) Close() {}
