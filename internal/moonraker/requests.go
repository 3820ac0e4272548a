package moonraker

import (
	"fmt"
	"sort"
	"strings"
)

// canonical telemetry object set requested on every status query; the
// discovered heater objects are appended at query time.
var statusObjects = []string{
	"webhooks",
	"print_stats",
	"virtual_sdcard",
	"display_status",
	"heaters",
	"toolhead",
	"extruder",
	"gcode_move",
}

// jsonrpcRequest assigns the next request id and enqueues the request on
// the live transport. Ids are monotonically increasing and never reused
// within the connection's lifetime; replies correlate purely by id.
func (c *Conn) jsonrpcRequest(method string, params map[string]any) int64 {
	conn := c.Conn()
	if conn == nil {
		return 0
	}
	id := c.nextID.Add(1)
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      id,
	}
	if len(params) > 0 {
		payload["params"] = params
	}
	conn.Send(payload, false)
	return id
}

func (c *Conn) RequestWebsocketID() int64 {
	return c.jsonrpcRequest("server.websocket.id", nil)
}

func (c *Conn) RequestPrinterInfo() int64 {
	return c.jsonrpcRequest("printer.info", nil)
}

func (c *Conn) RequestPrinterObjects() int64 {
	return c.jsonrpcRequest("printer.objects.list", nil)
}

func (c *Conn) RequestHeaters() int64 {
	return c.jsonrpcRequest("printer.objects.query", map[string]any{
		"objects": map[string]any{"heaters": nil},
	})
}

// RequestSubscribe subscribes to the canonical telemetry object set, or a
// caller-provided one.
func (c *Conn) RequestSubscribe(objects map[string]any) int64 {
	if objects == nil {
		objects = map[string]any{
			"print_stats": []string{"state", "message", "filename"},
			"webhooks":    []string{"state", "state_message"},
			"history":     nil,
		}
	}
	return c.jsonrpcRequest("printer.objects.subscribe", map[string]any{"objects": objects})
}

// RequestStatusUpdate issues a full telemetry query over the canonical
// object set plus all discovered heaters.
func (c *Conn) RequestStatusUpdate() int64 {
	objects := make(map[string]any, len(statusObjects))
	for _, name := range statusObjects {
		objects[name] = nil
	}
	for _, heater := range c.Heaters() {
		objects[heater] = nil
	}
	return c.jsonrpcRequest("printer.objects.query", map[string]any{"objects": objects})
}

func (c *Conn) RequestPause() int64 {
	return c.jsonrpcRequest("printer.print.pause", nil)
}

func (c *Conn) RequestCancel() int64 {
	return c.jsonrpcRequest("printer.print.cancel", nil)
}

func (c *Conn) RequestResume() int64 {
	return c.jsonrpcRequest("printer.print.resume", nil)
}

// RequestJobList fetches job-history entries; order is "asc" or "desc".
func (c *Conn) RequestJobList(order string, limit int) int64 {
	return c.jsonrpcRequest("server.history.list", map[string]any{
		"order": order,
		"limit": limit,
	})
}

func (c *Conn) RequestJob(uid string) int64 {
	return c.jsonrpcRequest("server.history.get_job", map[string]any{"uid": uid})
}

// RequestJog moves the toolhead along the given axes. Relative moves wrap
// the G0 in G91/G90 as needed; feedrate is mm/s.
func (c *Conn) RequestJog(axes map[string]float64, isRelative bool, feedrate int) int64 {
	names := make([]string, 0, len(axes))
	for axis := range axes {
		names = append(names, axis)
	}
	sort.Strings(names)

	var move strings.Builder
	move.WriteString("G0")
	for _, axis := range names {
		fmt.Fprintf(&move, " %s%g", strings.ToUpper(axis), axes[axis])
	}
	if feedrate > 0 {
		fmt.Fprintf(&move, " F%d", feedrate*60)
	}

	commands := []string{"G91", move.String()}
	if !isRelative {
		commands = append(commands, "G90")
	}
	return c.RequestGcodeScript(strings.Join(commands, "\n"))
}

// RequestHome homes the given axes.
func (c *Conn) RequestHome(axes []string) int64 {
	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		parts = append(parts, strings.ToUpper(axis)+"0")
	}
	return c.RequestGcodeScript("G28 " + strings.Join(parts, " "))
}

func (c *Conn) RequestGcodeScript(script string) int64 {
	return c.jsonrpcRequest("printer.gcode.script", map[string]any{"script": script})
}
