package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/printwatch/moonraker-bridge/internal/event"
	"github.com/printwatch/moonraker-bridge/internal/pkg/utils"
)

// downloadTimeout bounds one g-code fetch. Large files over slow links
// are expected.
const downloadTimeout = 30 * time.Minute

// handlePassthru routes a remote procedure call from the cloud. The
// target set is closed; anything else is rejected with an error ack.
func (a *App) handlePassthru(ctx context.Context, passthru map[string]any) {
	target, _ := passthru["target"].(string)
	fn, _ := passthru["func"].(string)
	args, _ := passthru["args"].([]any)
	ref, _ := passthru["ref"].(string)

	if ref != "" {
		// the same message may arrive over both the websocket and the
		// data channel
		if a.seenRefs.Seen(ref) {
			a.logger.Debug("ignoring already processed passthru message", "ref", ref)
			return
		}
		a.seenRefs.Add(ref)
	}

	var ret map[string]any
	switch {
	case target == "file_downloader" && fn == "download":
		gcodeFile, _ := firstArg(args).(map[string]any)
		ret = a.processDownload(ctx, gcodeFile)

	case target == "_printer" && fn == "jog":
		axesArg, _ := firstArg(args).(map[string]any)
		ret = a.processJog(ref, axesArg)

	case target == "_printer" && fn == "home":
		axesArg, _ := firstArg(args).([]any)
		ret = a.processHome(ref, axesArg)

	default:
		ret = map[string]any{"error": fmt.Sprintf("Unsupported passthru target %s.%s", target, fn)}
	}

	// a nil ret means the ack is deferred until the printer host replies
	if ref != "" && ret != nil {
		a.sendAck(ref, ret)
	}
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func (a *App) sendAck(ref string, ret map[string]any) {
	a.cloud.SendPassthru(map[string]any{"ref": ref, "ret": ret})
}

// ackPassthru translates a printer-host JSON-RPC reply into the deferred
// acknowledgement for the passthru call that issued it.
func (a *App) ackPassthru(ref string, ev event.Event) {
	var ret map[string]any
	if errVal, ok := ev.Data["error"]; ok {
		ret = map[string]any{"error": parseLooseError(errVal)}
	} else {
		ret = map[string]any{"success": ev.Data["result"]}
	}
	a.sendAck(ref, ret)
}

// parseLooseError re-parses error strings that look like a JSON object
// serialized with single quotes. Best effort, the raw value survives a
// parse failure.
func parseLooseError(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, "'") {
		return v
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.ReplaceAll(trimmed, "'", `"`)), &parsed); err != nil {
		return v
	}
	return parsed
}

// processDownload kicks off a background download-and-print and acks
// optimistically. Rejected while another download or a print is active.
func (a *App) processDownload(ctx context.Context, gcodeFile map[string]any) map[string]any {
	if gcodeFile == nil {
		return map[string]any{"error": "Missing g-code file descriptor"}
	}
	if a.downloading.Load() || a.state.IsPrinting() {
		return map[string]any{"error": "Currently downloading or printing!"}
	}

	filename, _ := gcodeFile["filename"].(string)
	url, _ := gcodeFile["url"].(string)
	if filename == "" || url == "" {
		return map[string]any{"error": "Missing g-code filename or url"}
	}

	a.downloading.Store(true)
	go func() {
		err := a.downloadAndPrint(ctx, filename, url)
		a.PushEvent(event.Event{Name: nameDownloadDone, Err: err})
	}()

	return map[string]any{"target_path": filename}
}

func (a *App) downloadAndPrint(ctx context.Context, filename, url string) error {
	a.logger.Info("downloading g-code", "filename", filename, "url", url)

	reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %q: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download %q: unexpected status %d", filename, resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read download %q: %w", filename, err)
	}

	safe := utils.SanitizeFilename(filename)
	a.logger.Info("uploading g-code to printer host", "filename", safe, "bytes", len(content))
	if _, err := a.printer.UploadGcode(safe, a.cfg.Cloud.UploadDir, content); err != nil {
		return fmt.Errorf("upload %q: %w", safe, err)
	}
	a.logger.Info("upload finished", "filename", safe)
	return nil
}

// processJog issues a relative jog move. The ack is deferred to the
// printer host's reply via the pending table.
func (a *App) processJog(ref string, axesArg map[string]any) map[string]any {
	if !a.printer.Ready() {
		return map[string]any{"error": "Printer is not connected!"}
	}

	axes := map[string]float64{}
	hasZ := false
	for axis, raw := range axesArg {
		dist, ok := raw.(float64)
		if !ok {
			continue
		}
		axes[axis] = dist
		if strings.EqualFold(axis, "z") {
			hasZ = true
		}
	}
	if len(axes) == 0 {
		return map[string]any{"error": "No axes to jog"}
	}

	feedrate := a.cfg.Cloud.FeedrateXY
	if hasZ {
		feedrate = a.cfg.Cloud.FeedrateZ
	}
	isRelative := !a.state.AbsoluteCoordinates()

	a.logger.Info("jog request", "axes", axes, "ref", ref)
	id := a.printer.RequestJog(axes, isRelative, feedrate)
	if ref != "" {
		a.pending.Add(id, ref, time.Now())
	}
	return nil
}

// processHome issues a homing request, ack deferred like processJog.
func (a *App) processHome(ref string, axesArg []any) map[string]any {
	if !a.printer.Ready() {
		return map[string]any{"error": "Printer is not connected!"}
	}

	axes := make([]string, 0, len(axesArg))
	for _, raw := range axesArg {
		if axis, ok := raw.(string); ok {
			axes = append(axes, axis)
		}
	}
	if len(axes) == 0 {
		return map[string]any{"error": "No axes to home"}
	}

	a.logger.Info("homing request", "axes", axes, "ref", ref)
	id := a.printer.RequestHome(axes)
	if ref != "" {
		a.pending.Add(id, ref, time.Now())
	}
	return nil
}
