package ffmpeg

import (
	"strings"
)

// Command is a program plus its argument list, ready for exec.
type Command struct {
	Program string
	Args    []string
}

// String renders the command for logs with the ingest key masked.
func (c Command) String() string {
	return strings.Join(c.Redacted(), " ")
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// Redacted is Argv with the ingest key masked.
func (c Command) Redacted() []string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Program)
	for _, arg := range c.Args {
		parts = append(parts, maskIngestKey(arg))
	}
	return parts
}

// Equal reports whether two commands are identical.
func (c Command) Equal(other Command) bool {
	if c.Program != other.Program || len(c.Args) != len(other.Args) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}

// Flag returns the value following flag and whether the flag is present.
func (c Command) Flag(flag string) (string, bool) {
	for i, arg := range c.Args {
		if arg == flag {
			if i+1 < len(c.Args) {
				return c.Args[i+1], true
			}
			return "", true
		}
	}
	return "", false
}

// Destination returns the output URL (the last argument).
func (c Command) Destination() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// Builder produces live-streaming commands.
type Builder struct {
	Binary     string
	IngestBase string
}

// NewBuilder returns a builder using ffmpeg from PATH and the YouTube ingest.
func NewBuilder() Builder {
	return Builder{Binary: DefaultBinary, IngestBase: DefaultIngestBase}
}

// BuildCommand builds a command with the default builder.
func BuildCommand(req Request) Command {
	return NewBuilder().Build(req)
}

// Build builds the ffmpeg command for req. It has no side effects and never fails;
// a bad source path surfaces when the process starts.
func (b Builder) Build(req Request) Command {
	binary := b.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	base := b.IngestBase
	if base == "" {
		base = DefaultIngestBase
	}

	// Input: realtime pacing, infinite loop
	args := []string{
		"-re",
		"-stream_loop", "-1",
		"-i", req.SourcePath,
	}

	if req.Vertical {
		args = append(args, "-vf", VerticalScale)
	}

	// Constant bitrate, fixed keyframe cadence
	args = append(args,
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-b:v", VideoBitrate,
		"-maxrate", VideoMaxRate,
		"-bufsize", VideoBufferSize,
		"-g", KeyframeInt,
		"-keyint_min", KeyframeInt,
	)

	args = append(args,
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
	)

	args = append(args, "-f", OutputFormat, IngestURL(base, req.DestinationKey))

	return Command{Program: binary, Args: args}
}

// IngestURL joins the ingest base and key. The key is not escaped.
func IngestURL(base, key string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + key
}

func maskIngestKey(arg string) string {
	if !strings.HasPrefix(arg, "rtmp://") && !strings.HasPrefix(arg, "rtmps://") {
		return arg
	}
	idx := strings.LastIndex(arg, "/")
	if idx == -1 || idx == len(arg)-1 {
		return arg
	}
	return arg[:idx+1] + "****"
}
