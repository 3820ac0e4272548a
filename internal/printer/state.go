// Package printer derives a normalized status and print-lifecycle model
// from raw printer-host telemetry.
package printer

import (
	"sync"
	"time"
)

// LifecycleState is the derived printer state, a pure function of the
// latest telemetry snapshot.
type LifecycleState string

const (
	StateOffline     LifecycleState = "Offline"
	StateOperational LifecycleState = "Operational"
	StatePrinting    LifecycleState = "Printing"
	StatePaused      LifecycleState = "Paused"
	StateError       LifecycleState = "Error"
)

// LifecycleEvent marks a print-lifecycle transition between two
// consecutive classifications.
type LifecycleEvent string

const (
	EventPrintStarted   LifecycleEvent = "PrintStarted"
	EventPrintResumed   LifecycleEvent = "PrintResumed"
	EventPrintPaused    LifecycleEvent = "PrintPaused"
	EventPrintCancelled LifecycleEvent = "PrintCancelled"
	EventPrintDone      LifecycleEvent = "PrintDone"
	EventPrintFailed    LifecycleEvent = "PrintFailed"
)

// recentJobWindow is the tolerance for matching a freshly started print
// against the firmware-reported job start time.
const recentJobWindow = 20 * time.Second

// Classify maps a raw telemetry status to the derived lifecycle state.
func Classify(status map[string]any) LifecycleState {
	webhooks, _ := status["webhooks"].(map[string]any)
	klippyState, _ := webhooks["state"].(string)
	if klippyState == "" {
		klippyState = "disconnected"
	}
	switch klippyState {
	case "disconnected", "startup":
		return StateOffline
	case "ready":
	default:
		return StateError
	}

	printStats, _ := status["print_stats"].(map[string]any)
	printState, _ := printStats["state"].(string)
	switch printState {
	case "standby", "complete", "cancelled":
		return StateOperational
	case "printing":
		return StatePrinting
	case "paused":
		return StatePaused
	default:
		return StateError
	}
}

// State holds the latest telemetry snapshot and the active-print
// timestamp. Mutations go through a single mutex; reads copy out.
type State struct {
	mu sync.Mutex

	eventtime      float64
	status         map[string]any
	currentPrintTs int64
	lastJob        map[string]any
}

func NewState() *State {
	return &State{status: map[string]any{}, currentPrintTs: -1}
}

// UpdateResult reports what one telemetry update changed.
type UpdateResult struct {
	Prev, Next   LifecycleState
	StateChanged bool
	// Events lists lifecycle transitions in emission order. A cancelled
	// print yields both PrintCancelled and PrintFailed for compatibility
	// with older consumers.
	Events []LifecycleEvent
	// PrintTs is the active print's start timestamp at the moment the
	// events fired, before any reset that ends the print.
	PrintTs int64
}

// Update replaces the stored status wholesale and derives lifecycle events
// from the classification transition. now is injected for testability.
func (s *State) Update(eventtime float64, status map[string]any, now time.Time) UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := Classify(s.status)
	next := Classify(status)
	res := UpdateResult{Prev: prev, Next: next, StateChanged: prev != next}

	s.eventtime = eventtime
	s.status = status

	switch next {
	case StatePrinting:
		switch prev {
		case StatePrinting:
			// still printing, nothing to report
		case StatePaused:
			res.Events = append(res.Events, EventPrintResumed)
		default:
			s.currentPrintTs = s.printStartTs(now)
			res.Events = append(res.Events, EventPrintStarted)
		}

	case StatePaused:
		if prev != StatePaused {
			res.Events = append(res.Events, EventPrintPaused)
		}

	case StateOperational:
		if prev == StatePrinting || prev == StatePaused {
			res.Events = append(res.Events, finishedEvents(status)...)
			res.PrintTs = s.currentPrintTs
			s.currentPrintTs = -1
		}

	case StateError, StateOffline:
		if prev == StatePrinting || prev == StatePaused {
			res.Events = append(res.Events, EventPrintFailed)
			res.PrintTs = s.currentPrintTs
			s.currentPrintTs = -1
		}
	}

	if res.PrintTs == 0 {
		res.PrintTs = s.currentPrintTs
	}
	return res
}

// printStartTs stamps a newly detected print. When the firmware reported a
// matching recently started job, its start time wins over "now"; a missing
// currentPrintTs with an in-progress history entry means the agent
// restarted mid-print, so the history start time must be used.
func (s *State) printStartTs(now time.Time) int64 {
	ts := now.Unix()
	if s.lastJob == nil {
		return ts
	}
	jobState, _ := s.lastJob["state"].(string)
	if jobState != "in_progress" {
		return ts
	}
	jobTs := int64(floatField(s.lastJob, "start_time"))
	if jobTs <= 0 {
		return ts
	}
	if s.currentPrintTs == -1 || s.currentPrintTs == jobTs {
		return jobTs
	}
	if delta := ts - jobTs; delta < int64(recentJobWindow.Seconds()) && delta > -int64(recentJobWindow.Seconds()) {
		return jobTs
	}
	return ts
}

// finishedEvents inspects print_stats.state to tell how an active print
// ended up back in Operational.
func finishedEvents(status map[string]any) []LifecycleEvent {
	printStats, _ := status["print_stats"].(map[string]any)
	switch printStats["state"] {
	case "cancelled":
		return []LifecycleEvent{EventPrintCancelled, EventPrintFailed}
	case "complete":
		return []LifecycleEvent{EventPrintDone}
	default:
		return []LifecycleEvent{EventPrintFailed}
	}
}

// SetLastJob records the most recent job-history entry and, when an active
// print is already in progress, reconstructs currentPrintTs from its start
// time so a restart mid-print is not misreported as just-started.
func (s *State) SetLastJob(job map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastJob = job
	if job == nil {
		return
	}
	ts := int64(floatField(job, "start_time"))
	if state, _ := job["state"].(string); state == "in_progress" && ts > 0 {
		s.currentPrintTs = ts
	} else {
		s.currentPrintTs = -1
	}
}

// LastJob returns the most recent job-history entry, nil when unknown.
func (s *State) LastJob() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastJob
}

// CurrentPrintTs returns the active print's start timestamp, -1 when no
// print is active or the start is unknown.
func (s *State) CurrentPrintTs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPrintTs
}

// Current returns the current classification.
func (s *State) Current() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Classify(s.status)
}

// CurrentFilename returns the file of the active or last print as reported
// by the firmware, empty when none.
func (s *State) CurrentFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	printStats, _ := s.status["print_stats"].(map[string]any)
	name, _ := printStats["filename"].(string)
	return name
}

// AbsoluteCoordinates reports the firmware's current positioning mode,
// used to decide whether jog moves need a G90 restore.
func (s *State) AbsoluteCoordinates() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	gcodeMove, _ := s.status["gcode_move"].(map[string]any)
	abs, ok := gcodeMove["absolute_coordinates"].(bool)
	return !ok || abs
}

// IsPrinting reports whether the firmware considers a print active.
func (s *State) IsPrinting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	printStats, _ := s.status["print_stats"].(map[string]any)
	return printStats["state"] == "printing"
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
