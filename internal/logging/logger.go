// Package logging builds the process logger.
package logging

import (
	"log/slog"
	"os"

	"github.com/printwatch/moonraker-bridge/internal/printer"
)

// New creates the process logger: JSON to stdout at the given level,
// tagged with the agent identity and version.
func New(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("agent", printer.AgentName, "version", printer.Version)
}
