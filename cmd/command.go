package cmd

import (
	"fmt"
	"strings"

	"github.com/smazurov/loopcast/internal/ffmpeg"
	"github.com/smazurov/loopcast/internal/streams"
	"github.com/spf13/cobra"
)

// CreateCommandCmd creates the command subcommand, which prints the encoder
// invocation a stream job would run without starting it.
func CreateCommandCmd() *cobra.Command {
	var (
		video, key, mode   string
		binary, ingestBase string
		showKey, argv      bool
	)

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Print the encoder command for a stream",
		Long:  `Builds the encoder command for the given video, key and mode. The source file is not checked and the key is masked unless --show-key is set.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if strings.TrimSpace(video) == "" || strings.TrimSpace(key) == "" {
				return streams.NewStreamError(streams.ErrCodeInvalidRequest, "--video and --key are required", nil)
			}

			builder := ffmpeg.Builder{Binary: binary, IngestBase: ingestBase}
			command := builder.Build(ffmpeg.Request{
				SourcePath:     video,
				DestinationKey: key,
				Vertical:       streams.ParseMode(mode),
			})

			args := command.Redacted()
			if showKey {
				args = command.Argv()
			}

			out := c.OutOrStdout()
			if argv {
				for _, a := range args {
					fmt.Fprintln(out, a)
				}
				return nil
			}
			fmt.Fprintln(out, strings.Join(args, " "))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&video, "video", "", "Source video file")
	flags.StringVar(&key, "key", "", "Destination stream key")
	flags.StringVar(&mode, "mode", "", `Output mode, "shorts" for vertical 720x1280`)
	flags.StringVar(&binary, "ffmpeg", ffmpeg.DefaultBinary, "Encoder binary")
	flags.StringVar(&ingestBase, "ingest-base", ffmpeg.DefaultIngestBase, "RTMP ingest base URL")
	flags.BoolVar(&showKey, "show-key", false, "Print the stream key in clear")
	flags.BoolVar(&argv, "argv", false, "Print one argument per line")

	return cmd
}
