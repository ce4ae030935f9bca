// Package logging provides structured logging with per-module log levels.
//
// Records are routed to stdout (text or json) when it is connected, to the
// systemd journal when journald is reachable, and to an in-memory ring buffer
// that backs the live application log feed.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"process": "debug",
//			"ffmpeg":  "warn",
//		},
//	})
//
// Then fetch a logger per module:
//
//	logger := logging.GetLogger("streams")
//	logger.Info("Job started", "session_id", id)
//
// Levels can be changed at runtime with SetLevels; loggers already handed out
// observe the change because each module logger is backed by a slog.LevelVar.
//
// Journal entries carry SYSLOG_IDENTIFIER=loopcast:
//
//	journalctl -t loopcast -f
//	journalctl -t loopcast MODULE=process
//	journalctl -t loopcast SESSION_ID=3f0c...
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	ffmpeg = "warn"
//	api = "debug"
package logging
