// Package event defines the message envelope shared by the transports,
// the connection flow engines and the application router.
package event

// Connection identities used as event senders and routing keys.
const (
	SenderMoonraker = "moonrakerconn"
	SenderCloud     = "cloudconn"
)

// Well-known event names emitted by transports and flow engines.
const (
	NameConnected       = "connected"
	NameDisconnected    = "disconnected"
	NameConnectionError = "connection_error"
	NameMessage         = "message"
	NameTimeout         = "timeout"
	NameShutdown        = "shutdown"
	NameFatalError      = "fatal_error"
	NameKlippyGone      = "klippy_gone"
	NameLastJob         = "last_job"
	NameLinkedPrinter   = "linked_printer"
)

// Event is the immutable envelope passed between components. Sender is a
// connection identity or empty for self-posted events. Err carries a
// transport-level failure on connection_error events.
type Event struct {
	Sender string
	Name   string
	Data   map[string]any
	Err    error
}

// Method returns the JSON-RPC notification method name, if any.
func (e Event) Method() string {
	s, _ := e.Data["method"].(string)
	return s
}

// ID returns the JSON-RPC id of a reply, or 0 when absent. JSON numbers
// decode as float64; BSON frames may carry integer types.
func (e Event) ID() int64 {
	return toInt64(e.Data["id"])
}

// Result returns the JSON-RPC result object of a reply, or nil.
func (e Event) Result() map[string]any {
	m, _ := e.Data["result"].(map[string]any)
	return m
}

// TimerGeneration returns the generation id carried by a timeout event.
func (e Event) TimerGeneration() int64 {
	return toInt64(e.Data["timer_id"])
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
