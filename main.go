package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/loopcast/cmd"
	"github.com/smazurov/loopcast/internal/api"
	"github.com/smazurov/loopcast/internal/config"
	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/ffmpeg"
	"github.com/smazurov/loopcast/internal/logging"
	"github.com/smazurov/loopcast/internal/metrics"
	"github.com/smazurov/loopcast/internal/streams"
	"github.com/smazurov/loopcast/internal/systemd"
	"github.com/smazurov/loopcast/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port       string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CORSOrigin string `help:"Access-Control-Allow-Origin value" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Encoder settings
	FfmpegBinary     string `help:"Encoder binary" default:"ffmpeg" toml:"ffmpeg.binary" env:"FFMPEG_BINARY"`
	FfmpegIngestBase string `help:"RTMP ingest base URL the stream key is appended to" default:"rtmp://a.rtmp.youtube.com/live2/" toml:"ffmpeg.ingest_base" env:"FFMPEG_INGEST_BASE"`

	// Media settings
	MediaDir string `help:"Directory relative video paths resolve against" default:"" toml:"media.dir" env:"MEDIA_DIR"`

	// Job settings
	JobsLogLines        int           `help:"Output lines kept per job" default:"20" toml:"jobs.log_lines" env:"JOBS_LOG_LINES"`
	JobsGracefulTimeout time.Duration `help:"Wait after SIGINT before killing an encoder" default:"5s" toml:"jobs.graceful_timeout" env:"JOBS_GRACEFUL_TIMEOUT"`
	JobsKillTimeout     time.Duration `help:"Wait after SIGKILL before abandoning an encoder" default:"5s" toml:"jobs.kill_timeout" env:"JOBS_KILL_TIMEOUT"`

	// Session settings
	SessionsTTL time.Duration `help:"Idle time after which sessions without a live job are dropped" default:"24h" toml:"sessions.ttl" env:"SESSIONS_TTL"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingStreams string `help:"Stream service logging level" default:"info" toml:"logging.streams" env:"LOGGING_STREAMS"`
	LoggingProcess string `help:"Process supervisor logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingFFmpeg  string `help:"Encoder output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"streams": opts.LoggingStreams,
				"process": opts.LoggingProcess,
				"ffmpeg":  opts.LoggingFFmpeg,
				"config":  opts.LoggingConfig,
			},
		})

		logger := logging.GetLogger("main")
		logger.Info("loopcast starting", "version", version.String())

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Feed application logs to /api/logs/stream
		logging.SetLogCallback(func(seq uint64, entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		streamService := streams.NewStreamService(&streams.ServiceOptions{
			Builder: ffmpeg.Builder{
				Binary:     opts.FfmpegBinary,
				IngestBase: opts.FfmpegIngestBase,
			},
			MediaDir:        opts.MediaDir,
			LogLines:        opts.JobsLogLines,
			GracefulTimeout: opts.JobsGracefulTimeout,
			KillTimeout:     opts.JobsKillTimeout,
			EventBus:        eventBus,
		})

		corsConfig := api.DefaultCORSConfig()
		corsConfig.AllowOrigin = opts.CORSOrigin

		server := api.NewServer(&api.Options{
			StreamService:     streamService,
			EventBus:          eventBus,
			PrometheusHandler: metrics.Handler(),
			CORS:              &corsConfig,
			OnListening: func() {
				if sent, notifyErr := systemd.NotifyReady(); notifyErr != nil {
					logger.Warn("systemd readiness notification failed", "error", notifyErr)
				} else if sent {
					logger.Debug("Notified systemd of readiness")
				}
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		var watcher atomic.Pointer[config.Watcher[logging.Config]]

		hooks.OnStart(func() {
			// Hot-reload logging levels when the config file changes
			if _, statErr := os.Stat(opts.Config); statErr == nil {
				w, watchErr := config.WatchLogging(opts.Config, logging.GetLogger("config"))
				if watchErr != nil {
					logger.Warn("Config watcher not started, level reload disabled", "error", watchErr)
				} else {
					watcher.Store(w)
				}
			}

			go expireSessions(ctx, streamService, opts.SessionsTTL, logger)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = systemd.NotifyStopping()
			cancel()

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop encoders after the HTTP server stops accepting new jobs
			streamService.Shutdown()

			if w := watcher.Load(); w != nil {
				_ = w.Stop()
			}
		})
	})

	cli.Root().Use = "loopcast"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateStreamCmd())
	cli.Root().AddCommand(cmd.CreateCommandCmd())
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	cli.Run()
}

// expireSessions periodically drops idle sessions until ctx is done.
func expireSessions(ctx context.Context, svc streams.Service, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	interval := min(max(ttl/4, time.Minute), time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := svc.ExpireSessions(ttl); len(removed) > 0 {
				logger.Debug("Session sweep", "removed", len(removed))
			}
		}
	}
}
