package ffmpeg

import (
	"slices"
	"strings"
	"testing"
)

func TestBuildCommandDeterministic(t *testing.T) {
	requests := []Request{
		{SourcePath: "/videos/a.mp4", DestinationKey: "abc123"},
		{SourcePath: "/videos/a.mp4", DestinationKey: "abc123", Vertical: true},
		{SourcePath: "clip with spaces.mov", DestinationKey: "xxxx-yyyy-zzzz"},
	}

	for _, req := range requests {
		first := BuildCommand(req)
		second := BuildCommand(req)
		if !first.Equal(second) {
			t.Errorf("BuildCommand(%+v) not deterministic:\n%v\n%v", req, first.Args, second.Args)
		}
	}
}

func TestBuildCommandEncodingPolicy(t *testing.T) {
	cmd := BuildCommand(Request{SourcePath: "/videos/a.mp4", DestinationKey: "abc123"})

	if cmd.Program != "ffmpeg" {
		t.Errorf("Program = %q, want ffmpeg", cmd.Program)
	}

	tests := []struct {
		flag string
		want string
	}{
		{"-stream_loop", "-1"},
		{"-i", "/videos/a.mp4"},
		{"-c:v", "libx264"},
		{"-preset", "fast"},
		{"-b:v", "2500k"},
		{"-maxrate", "2500k"},
		{"-bufsize", "5000k"},
		{"-g", "60"},
		{"-keyint_min", "60"},
		{"-c:a", "aac"},
		{"-b:a", "128k"},
		{"-f", "flv"},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got, ok := cmd.Flag(tt.flag)
			if !ok {
				t.Fatalf("flag %s missing from %v", tt.flag, cmd.Args)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}

	if !slices.Contains(cmd.Args, "-re") {
		t.Errorf("expected realtime pacing flag -re in %v", cmd.Args)
	}
}

func TestBuildCommandVerticalFilter(t *testing.T) {
	horizontal := BuildCommand(Request{SourcePath: "in.mp4", DestinationKey: "k"})
	if _, ok := horizontal.Flag("-vf"); ok {
		t.Errorf("standard output must not carry a scale filter: %v", horizontal.Args)
	}
	for _, arg := range horizontal.Args {
		if strings.Contains(arg, "scale=") {
			t.Errorf("unexpected scale argument %q", arg)
		}
	}

	vertical := BuildCommand(Request{SourcePath: "in.mp4", DestinationKey: "k", Vertical: true})
	filter, ok := vertical.Flag("-vf")
	if !ok || filter != "scale=720:1280" {
		t.Fatalf("vertical output filter = %q (present %v), want scale=720:1280", filter, ok)
	}

	// Filter sits between the input and the encoder settings
	input := slices.Index(vertical.Args, "-i")
	vf := slices.Index(vertical.Args, "-vf")
	codec := slices.Index(vertical.Args, "-c:v")
	if !(input < vf && vf < codec) {
		t.Errorf("filter out of order: -i at %d, -vf at %d, -c:v at %d", input, vf, codec)
	}
}

func TestBuildCommandDestination(t *testing.T) {
	cmd := BuildCommand(Request{SourcePath: "in.mp4", DestinationKey: "abc123"})
	if got := cmd.Destination(); got != "rtmp://a.rtmp.youtube.com/live2/abc123" {
		t.Errorf("Destination() = %q", got)
	}
}

func TestBuilderCustomIngest(t *testing.T) {
	b := Builder{Binary: "/opt/ffmpeg/bin/ffmpeg", IngestBase: "rtmp://localhost:1935/live"}
	cmd := b.Build(Request{SourcePath: "in.mp4", DestinationKey: "test"})

	if cmd.Program != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("Program = %q", cmd.Program)
	}
	if got := cmd.Destination(); got != "rtmp://localhost:1935/live/test" {
		t.Errorf("Destination() = %q", got)
	}
}

func TestIngestURLDoesNotEscapeKey(t *testing.T) {
	if got := IngestURL(DefaultIngestBase, "a b/c"); got != "rtmp://a.rtmp.youtube.com/live2/a b/c" {
		t.Errorf("IngestURL() = %q", got)
	}
}

func TestCommandStringMasksKey(t *testing.T) {
	cmd := BuildCommand(Request{SourcePath: "in.mp4", DestinationKey: "secret-key"})
	s := cmd.String()
	if strings.Contains(s, "secret-key") {
		t.Errorf("String() leaks ingest key: %s", s)
	}
	if !strings.HasSuffix(s, "rtmp://a.rtmp.youtube.com/live2/****") {
		t.Errorf("String() = %s", s)
	}
}

func TestCommandArgvAndRedacted(t *testing.T) {
	cmd := BuildCommand(Request{SourcePath: "in.mp4", DestinationKey: "secret-key"})

	argv := cmd.Argv()
	if argv[0] != DefaultBinary || argv[len(argv)-1] != "rtmp://a.rtmp.youtube.com/live2/secret-key" {
		t.Errorf("Argv() = %v", argv)
	}

	red := cmd.Redacted()
	if len(red) != len(argv) {
		t.Fatalf("Redacted() has %d parts, Argv() %d", len(red), len(argv))
	}
	if red[len(red)-1] != "rtmp://a.rtmp.youtube.com/live2/****" {
		t.Errorf("Redacted() destination = %s", red[len(red)-1])
	}

	// Argv must not alias Args.
	argv[1] = "mutated"
	if cmd.Args[0] == "mutated" {
		t.Error("Argv() aliases Args")
	}
}
