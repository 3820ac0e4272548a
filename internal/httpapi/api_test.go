package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printwatch/moonraker-bridge/internal/printer"
	"github.com/printwatch/moonraker-bridge/internal/storage"
)

type fakeApp struct {
	state   *printer.State
	linked  map[string]any
	boosted int
}

func (f *fakeApp) State() *printer.State         { return f.state }
func (f *fakeApp) LinkedPrinter() map[string]any { return f.linked }
func (f *fakeApp) BoostStatus()                  { f.boosted++ }

type fakeConn struct {
	ready    bool
	statusRq int
}

func (f *fakeConn) Ready() bool { return f.ready }

func (f *fakeConn) RequestStatusUpdate() int64 {
	f.statusRq++
	return int64(f.statusRq)
}

type fakeJournal struct {
	jobs   []storage.PrintJob
	events []storage.LifecycleEvent
}

func (f *fakeJournal) ListJobs(context.Context, int) ([]storage.PrintJob, error) {
	return f.jobs, nil
}

func (f *fakeJournal) ListLifecycleEvents(context.Context, int) ([]storage.LifecycleEvent, error) {
	return f.events, nil
}

func newTestAPI(t *testing.T) (*API, *fakeApp, *fakeConn) {
	t.Helper()
	state := printer.NewState()
	state.Update(1, map[string]any{
		"webhooks":    map[string]any{"state": "ready"},
		"print_stats": map[string]any{"state": "printing"},
	}, time.Now())

	app := &fakeApp{state: state, linked: map[string]any{"name": "voron"}}
	conn := &fakeConn{ready: true}
	journal := &fakeJournal{
		jobs: []storage.PrintJob{{JobID: "a", Filename: "a.gcode", State: "completed"}},
	}
	api := New(app, conn, &fakeConn{ready: false}, journal, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return api, app, conn
}

func doRequest(t *testing.T, api *API, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthReportsReadiness(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, true, body["moonraker_ready"])
	require.Equal(t, false, body["cloud_ready"])
	require.Equal(t, "Printing", body["printer_state"])
}

func TestStatusEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/status")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	linked, _ := body["linked_printer"].(map[string]any)
	require.Equal(t, "voron", linked["name"])
	require.Contains(t, body, "printer")
}

func TestJobsEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/jobs")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	items, _ := body["items"].([]any)
	require.Len(t, items, 1)
}

func TestJobsRejectsBadLimit(t *testing.T) {
	api, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/jobs?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, api, http.MethodGet, "/api/jobs?limit=-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshBoostsAndRequeries(t *testing.T) {
	api, app, conn := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/api/refresh")

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, app.boosted)
	require.Equal(t, 1, conn.statusRq)
}
