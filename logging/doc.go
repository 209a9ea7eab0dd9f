// Package logging provides the minimal Logger interface used across
// SupportMesh together with a slog backed implementation.
//
// Log messages are event names ("runner.turn.start", "tool.call.error")
// followed by slog style key/value pairs. Turn scoped loggers carry turn_id
// and session through With:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "json"})
//	turnLogger := logging.With(logger, "turn_id", id)
//
// NoOpLogger discards everything and is the default wherever a logger is
// optional.
package logging
