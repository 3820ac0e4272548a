package printer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusPayloadOffline(t *testing.T) {
	s := NewState()
	payload := s.ToStatusPayload(StatusOptions{SessionID: "abc"})

	require.Equal(t, int64(-1), payload["current_print_ts"])
	require.Equal(t, map[string]any{}, payload["octoprint_data"])
	require.NotContains(t, payload, "octoprint_event")

	settings, ok := payload["octoprint_settings"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "abc", settings["session_id"])
	agent, ok := settings["agent"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, AgentName, agent["name"])
}

func TestStatusPayloadPrinting(t *testing.T) {
	s := NewState()
	s.Update(1, map[string]any{
		"webhooks":    map[string]any{"state": "ready"},
		"print_stats": map[string]any{"state": "printing", "filename": "gcodes/benchy.gcode", "print_duration": 120.0},
		"virtual_sdcard": map[string]any{
			"progress":      0.25,
			"file_position": 1024.0,
		},
		"heaters":    map[string]any{"available_heaters": []any{"heater_bed", "extruder"}},
		"heater_bed": map[string]any{"temperature": 60.1, "target": 60.0},
		"extruder":   map[string]any{"temperature": 210.4, "target": 210.0},
	}, time.Now())

	payload := s.ToStatusPayload(StatusOptions{Event: EventPrintStarted})
	eventInfo, ok := payload["octoprint_event"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "PrintStarted", eventInfo["event_type"])

	data, ok := payload["octoprint_data"].(map[string]any)
	require.True(t, ok)

	state, _ := data["state"].(map[string]any)
	flags, _ := state["flags"].(map[string]any)
	require.Equal(t, true, flags["printing"])
	require.Equal(t, false, flags["paused"])

	job, _ := data["job"].(map[string]any)
	file, _ := job["file"].(map[string]any)
	require.Equal(t, "benchy.gcode", file["name"])
	require.Equal(t, "gcodes/benchy.gcode", file["path"])

	progress, _ := data["progress"].(map[string]any)
	require.InDelta(t, 25.0, progress["completion"], 0.001)
	require.InDelta(t, 360.0, progress["printTimeLeft"], 0.001)

	temps, _ := data["temperatures"].(map[string]any)
	bed, _ := temps["bed"].(map[string]any)
	require.InDelta(t, 60.1, bed["actual"], 0.001)
	tool0, _ := temps["tool0"].(map[string]any)
	require.InDelta(t, 210.4, tool0["actual"], 0.001)
}
