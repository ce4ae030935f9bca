package api

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/loopcast/internal/logging"
)

// HTTPLoggingMiddleware logs HTTP requests with appropriate log levels based on status codes.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	path := ctx.URL().Path
	query := redactQuery(ctx.URL().RawQuery)
	userAgent := ctx.Header("User-Agent")
	remoteAddr := ctx.RemoteAddr()

	logAttrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", remoteAddr),
	}

	if query != "" {
		logAttrs = append(logAttrs, slog.String("query", query))
	}

	if userAgent != "" {
		logAttrs = append(logAttrs, slog.String("user_agent", userAgent))
	}

	next(ctx)

	duration := time.Since(start)
	status := ctx.Status()

	logAttrs = append(logAttrs,
		slog.Int("status", status),
		slog.Duration("duration", duration),
	)

	logger.LogAttrs(ctx.Context(), requestLogLevel(method, path, status), "HTTP request completed", logAttrs...)
}

// requestLogLevel picks the log level for a completed request. Preflights
// and polling endpoints log at debug.
func requestLogLevel(method, path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case method == "OPTIONS", quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

var quietPaths = map[string]bool{
	"/api/health": true,
	"/api/jobs":   true,
	"/metrics":    true,
}

// redactQuery masks stream keys passed as query parameters.
func redactQuery(raw string) string {
	if raw == "" || !strings.Contains(raw, "key=") {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	if _, ok := values["key"]; ok {
		values.Set("key", "****")
	}
	return values.Encode()
}
