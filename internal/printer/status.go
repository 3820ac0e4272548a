package printer

import (
	"path"
	"strconv"
	"time"
)

// AgentName identifies this bridge in outbound status payloads.
const AgentName = "moonraker-bridge"

// Version is stamped at build time via -ldflags.
var Version = "dev"

// StatusOptions carry per-payload extras for ToStatusPayload.
type StatusOptions struct {
	// Event, when set, marks the payload as a lifecycle transition report.
	Event LifecycleEvent
	// SessionID tags the agent process that produced the payload.
	SessionID string
}

// ToStatusPayload projects the current state into the outbound status
// shape consumed by the cloud service.
func (s *State) ToStatusPayload(opts StatusOptions) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := map[string]any{
		"current_print_ts": s.currentPrintTs,
		"octoprint_data":   s.octoprintData(),
	}
	if opts.Event != "" {
		payload["octoprint_event"] = map[string]any{"event_type": string(opts.Event)}
	}
	settings := map[string]any{
		"agent": map[string]any{"name": AgentName, "version": Version},
	}
	if opts.SessionID != "" {
		settings["session_id"] = opts.SessionID
	}
	payload["octoprint_settings"] = settings
	return payload
}

// octoprintData renders the classic status mapping: state flags, job info,
// progress and temperatures. Callers hold s.mu.
func (s *State) octoprintData() map[string]any {
	state := Classify(s.status)
	if state == StateOffline {
		return map[string]any{}
	}

	printStats, _ := s.status["print_stats"].(map[string]any)
	virtualSD, _ := s.status["virtual_sdcard"].(map[string]any)

	errorText := ""
	if state == StateError {
		errorText, _ = printStats["message"].(string)
		if errorText == "" {
			errorText = "Unknown error"
		}
	}
	stateText := string(state)
	if errorText != "" {
		stateText = errorText
	}

	filepath, _ := printStats["filename"].(string)
	filename := ""
	if filepath != "" {
		filename = path.Base(filepath)
	}

	completion := floatField(virtualSD, "progress")
	printTime := floatField(printStats, "print_duration")
	var printTimeLeft any
	if completion > 0.001 && printTime > 0 {
		estimated := printTime / completion
		printTimeLeft = estimated - printTime
	}

	return map[string]any{
		"_ts": time.Now().Unix(),
		"state": map[string]any{
			"text": stateText,
			"flags": map[string]any{
				"operational":   state != StateError && state != StateOffline,
				"paused":        state == StatePaused,
				"printing":      state == StatePrinting,
				"cancelling":    false,
				"pausing":       false,
				"error":         state == StateError,
				"ready":         state == StateOperational,
				"closedOrError": state == StateError || state == StateOffline,
			},
		},
		"job": map[string]any{
			"file": map[string]any{"name": filename, "path": filepath},
		},
		"progress": map[string]any{
			"completion":    completion * 100,
			"filepos":       floatField(virtualSD, "file_position"),
			"printTime":     printTime,
			"printTimeLeft": printTimeLeft,
		},
		"temperatures": s.temperatures(),
	}
}

// temperatures maps discovered heater objects onto tool/bed readings.
// Callers hold s.mu.
func (s *State) temperatures() map[string]any {
	temps := map[string]any{}
	heatersObj, _ := s.status["heaters"].(map[string]any)
	available, _ := heatersObj["available_heaters"].([]any)
	for _, raw := range available {
		heater, ok := raw.(string)
		if !ok {
			continue
		}
		var name string
		switch {
		case heater == "heater_bed":
			name = "bed"
		case len(heater) >= 8 && heater[:8] == "extruder":
			toolNo := 0
			if suffix := heater[8:]; suffix != "" {
				if n, err := strconv.Atoi(suffix); err == nil {
					toolNo = n
				}
			}
			name = "tool" + strconv.Itoa(toolNo)
		default:
			continue
		}
		data, _ := s.status[heater].(map[string]any)
		temps[name] = map[string]any{
			"actual": floatField(data, "temperature"),
			"offset": 0,
			"target": floatField(data, "target"),
		}
	}
	return temps
}
