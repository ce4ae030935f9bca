package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/loopcast/internal/config"
	"github.com/smazurov/loopcast/internal/ffmpeg"
	"github.com/smazurov/loopcast/internal/logging"
	"github.com/smazurov/loopcast/internal/process"
	"github.com/smazurov/loopcast/internal/streams"
	"github.com/spf13/cobra"
)

// Exit codes of the stream command beyond the encoder's own.
const (
	ExitFailed    = 1
	ExitUsage     = 2
	ExitCancelled = 130
)

// StreamOptions configures a foreground stream job.
type StreamOptions struct {
	Video           string
	Key             string
	Mode            string
	MediaDir        string
	FFmpegBinary    string
	IngestBase      string
	ConfigFile      string // watched for logging level changes when set
	GracefulTimeout time.Duration
	KillTimeout     time.Duration
}

// CreateStreamCmd creates the stream command.
func CreateStreamCmd() *cobra.Command {
	opts := StreamOptions{}
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a video file in the foreground",
		Long: `Loops a video file to the ingest endpoint under the given stream key and prints ` +
			`the encoder output until the encoder exits or the command is interrupted. ` +
			`The exit status is the encoder's, 130 when interrupted, 1 when the encoder could not run.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			code := RunStream(ctx, opts, c.OutOrStdout())
			stop()
			os.Exit(code)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Video, "video", "", "Source video file")
	flags.StringVar(&opts.Key, "key", "", "Destination stream key")
	flags.StringVar(&opts.Mode, "mode", "", `Output mode, "shorts" for vertical 720x1280`)
	flags.StringVar(&opts.MediaDir, "media-dir", "", "Directory relative video paths resolve against")
	flags.StringVar(&opts.FFmpegBinary, "ffmpeg", ffmpeg.DefaultBinary, "Encoder binary")
	flags.StringVar(&opts.IngestBase, "ingest-base", ffmpeg.DefaultIngestBase, "RTMP ingest base URL")
	flags.StringVar(&opts.ConfigFile, "watch-config", "", "Config file to watch for logging level changes")
	flags.DurationVar(&opts.GracefulTimeout, "graceful-timeout", 5*time.Second, "Wait after SIGINT before killing the encoder")
	flags.DurationVar(&opts.KillTimeout, "kill-timeout", 5*time.Second, "Wait after SIGKILL before abandoning the encoder")
	flags.BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// RunStream runs one job to completion, writing encoder output to out, and
// returns the process exit status for the command. Cancelling ctx cancels
// the job.
func RunStream(ctx context.Context, opts StreamOptions, out io.Writer) int {
	logger := logging.GetLogger("stream")

	req, err := streams.ResolveRequest(streams.StartParams{
		SourcePath:     opts.Video,
		DestinationKey: opts.Key,
		Mode:           opts.Mode,
	}, opts.MediaDir)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return ExitUsage
	}

	builder := ffmpeg.Builder{Binary: opts.FFmpegBinary, IngestBase: opts.IngestBase}
	command := builder.Build(req)
	logger.Info("Starting stream", "command", command.String(), "vertical", req.Vertical)

	if opts.ConfigFile != "" {
		watcher, watchErr := config.WatchLogging(opts.ConfigFile, logger)
		if watchErr != nil {
			logger.Warn("Config watcher not started, level reload disabled", "error", watchErr)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	job := process.NewJob("stream", process.Command{
		Program: command.Program,
		Args:    command.Args,
		Display: command.String(),
	}, logging.GetLogger("process"), process.WithTimeouts(opts.GracefulTimeout, opts.KillTimeout))

	sink := process.SinkFuncs{
		Line: func(line process.Line) {
			fmt.Fprintln(out, line.Text)
		},
	}

	if err := job.Start(ctx, sink); err != nil {
		logger.Error("Encoder could not be started", "error", err)
		return ExitFailed
	}

	result, _ := job.Wait(context.Background())
	logger.Info("Stream ended", "state", string(result.State), "exit_code", result.ExitCode)
	return exitStatus(result)
}

func exitStatus(result process.Result) int {
	switch result.State {
	case process.StateCancelled:
		return ExitCancelled
	case process.StateCompleted:
		if result.ExitCode >= 0 {
			return result.ExitCode
		}
		return ExitFailed
	default:
		return ExitFailed
	}
}
