package streams

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/ffmpeg"
	"github.com/smazurov/loopcast/internal/process"
)

const testIngest = "rtmp://ingest.test/live2/"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript writes an executable shell script standing in for the encoder.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// writeMedia creates a source file inside dir and returns its name.
func writeMedia(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return name
}

type fixture struct {
	svc      Service
	bus      *events.Bus
	mediaDir string
}

func newFixture(t *testing.T, script string) *fixture {
	t.Helper()
	mediaDir := t.TempDir()
	bus := events.New()
	svc := NewStreamService(&ServiceOptions{
		Builder:         ffmpeg.Builder{Binary: script, IngestBase: testIngest},
		MediaDir:        mediaDir,
		LogLines:        64,
		GracefulTimeout: 500 * time.Millisecond,
		KillTimeout:     500 * time.Millisecond,
		StopTimeout:     3 * time.Second,
		EventBus:        bus,
		Logger:          discardLogger(),
		OutputLogger:    discardLogger(),
	})
	t.Cleanup(svc.Shutdown)
	return &fixture{svc: svc, bus: bus, mediaDir: mediaDir}
}

func waitTerminal(t *testing.T, svc Service, sessionID string) *JobInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := svc.GetJob(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if !info.Active() {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job for session %s did not finish", sessionID)
	return nil
}

func lineTexts(lines []process.Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		mode string
		want bool
	}{
		{"shorts", true},
		{"Shorts", true},
		{"SHORTS", true},
		{"  shorts\n", true},
		{"", false},
		{"landscape", false},
		{"short", false},
		{"shorts!", false},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.mode); got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestStartJobValidation(t *testing.T) {
	f := newFixture(t, writeScript(t, "exit 0"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	if err := os.Mkdir(filepath.Join(f.mediaDir, "folder"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		params StartParams
		code   string
	}{
		{"missing session", StartParams{SourcePath: video, DestinationKey: "k"}, ErrCodeInvalidRequest},
		{"missing source", StartParams{Session: "s", DestinationKey: "k"}, ErrCodeInvalidRequest},
		{"blank key", StartParams{Session: "s", SourcePath: video, DestinationKey: "  "}, ErrCodeInvalidRequest},
		{"no such file", StartParams{Session: "s", SourcePath: "absent.mp4", DestinationKey: "k"}, ErrCodeSourceNotFound},
		{"directory", StartParams{Session: "s", SourcePath: "folder", DestinationKey: "k"}, ErrCodeSourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := f.svc.StartJob(context.Background(), tt.params)
			if got := ErrorCode(err); got != tt.code {
				t.Fatalf("error code = %q (%v), want %q", got, err, tt.code)
			}
			if info != nil {
				t.Errorf("info = %+v, want nil", info)
			}
		})
	}

	if jobs := f.svc.ListJobs(context.Background()); len(jobs) != 0 {
		t.Errorf("rejected requests must not create jobs, got %d", len(jobs))
	}
}

func TestStartJobRunsBuiltCommand(t *testing.T) {
	f := newFixture(t, writeScript(t, `for a in "$@"; do echo "$a"; done`))
	video := writeMedia(t, f.mediaDir, "clip.mp4")

	info, err := f.svc.StartJob(context.Background(), StartParams{
		Session:        "s1",
		SourcePath:     video,
		DestinationKey: "abcd-1234",
		Mode:           "Shorts",
	})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if info.ID == "" || info.SessionID != "s1" || info.Trigger != TriggerManual || !info.Vertical {
		t.Errorf("unexpected info: %+v", info)
	}
	if strings.Contains(info.Command, "abcd-1234") {
		t.Errorf("command display leaks the key: %s", info.Command)
	}

	final := waitTerminal(t, f.svc, "s1")
	if final.State != process.StateCompleted || final.ExitCode != 0 {
		t.Errorf("final state = %s exit %d, want completed 0", final.State, final.ExitCode)
	}

	lines, err := f.svc.JobLines(context.Background(), "s1")
	if err != nil {
		t.Fatalf("JobLines: %v", err)
	}
	got := lineTexts(lines)
	src := filepath.Join(f.mediaDir, video)
	for _, want := range []string{src, "scale=720:1280", "libx264", testIngest + "abcd-1234"} {
		if !slices.Contains(got, want) {
			t.Errorf("output %v missing %q", got, want)
		}
	}
}

func TestStartJobRejectsActiveSession(t *testing.T) {
	f := newFixture(t, writeScript(t, "echo started\nexec sleep 30"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	params := StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"}
	ctx := context.Background()

	first, err := f.svc.StartJob(ctx, params)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	if _, err := f.svc.StartJob(ctx, params); ErrorCode(err) != ErrCodeJobActive {
		t.Fatalf("second StartJob error = %v, want %s", err, ErrCodeJobActive)
	}

	cancelled, err := f.svc.CancelJob(ctx, "s1")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.State != process.StateCancelled || cancelled.ID != first.ID {
		t.Errorf("cancelled = %+v, want state cancelled for job %s", cancelled, first.ID)
	}

	second, err := f.svc.StartJob(ctx, params)
	if err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
	if second.ID == first.ID {
		t.Error("restart should get a new job id")
	}
}

func TestStartJobSpawnFailure(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "no-such-encoder"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")

	info, err := f.svc.StartJob(context.Background(), StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"})
	if ErrorCode(err) != ErrCodeSpawnFailed {
		t.Fatalf("error = %v, want %s", err, ErrCodeSpawnFailed)
	}
	if !errors.Is(err, process.ErrSpawn) {
		t.Errorf("error should wrap process.ErrSpawn: %v", err)
	}
	if info == nil || info.State != process.StateFailed || info.Error == "" {
		t.Fatalf("info = %+v, want failed job with error", info)
	}

	lines, err := f.svc.JobLines(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0].Text, "failed to start") {
		t.Errorf("lines = %v, want one failure line", lineTexts(lines))
	}
}

func TestJobNotFound(t *testing.T) {
	f := newFixture(t, writeScript(t, "exit 0"))
	ctx := context.Background()

	if _, err := f.svc.GetJob(ctx, "nope"); ErrorCode(err) != ErrCodeJobNotFound {
		t.Errorf("GetJob error = %v", err)
	}
	if _, err := f.svc.CancelJob(ctx, "nope"); ErrorCode(err) != ErrCodeJobNotFound {
		t.Errorf("CancelJob error = %v", err)
	}
	if _, err := f.svc.JobLines(ctx, "nope"); ErrorCode(err) != ErrCodeJobNotFound {
		t.Errorf("JobLines error = %v", err)
	}
}

func TestAutoStartMissingParamsLeavesGuard(t *testing.T) {
	f := newFixture(t, writeScript(t, "exit 0"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	ctx := context.Background()

	for _, p := range []StartParams{
		{Session: "s1"},
		{Session: "s1", SourcePath: video},
		{Session: "s1", DestinationKey: "k"},
	} {
		launched, info, err := f.svc.AutoStart(ctx, p)
		if launched || info != nil || err != nil {
			t.Fatalf("AutoStart(%+v) = %v, %+v, %v; want no-op", p, launched, info, err)
		}
	}

	launched, info, err := f.svc.AutoStart(ctx, StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"})
	if err != nil || !launched {
		t.Fatalf("AutoStart with full params = %v, %v; want launched", launched, err)
	}
	if info.Trigger != TriggerAutoStart {
		t.Errorf("Trigger = %q, want %q", info.Trigger, TriggerAutoStart)
	}
}

func TestAutoStartFiresOncePerSession(t *testing.T) {
	f := newFixture(t, writeScript(t, "exec sleep 30"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	params := StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"}

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			launched, _, err := f.svc.AutoStart(context.Background(), params)
			if err != nil {
				t.Errorf("AutoStart: %v", err)
			}
			results <- launched
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for launched := range results {
		if launched {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("launched %d times, want exactly 1", winners)
	}

	// A later rerun of the page must not start a second job, even after the first ends
	if _, err := f.svc.CancelJob(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	launched, info, err := f.svc.AutoStart(context.Background(), params)
	if launched || err != nil {
		t.Fatalf("AutoStart after fire = %v, %v; want skipped", launched, err)
	}
	if info == nil || info.State != process.StateCancelled {
		t.Errorf("skipped AutoStart should report the existing job, got %+v", info)
	}

	// Other sessions have their own guard
	if launched, _, err := f.svc.AutoStart(context.Background(), StartParams{Session: "s2", SourcePath: video, DestinationKey: "k"}); !launched || err != nil {
		t.Errorf("AutoStart for s2 = %v, %v; want launched", launched, err)
	}
}

func TestAutoStartFailureKeepsGuardFired(t *testing.T) {
	f := newFixture(t, writeScript(t, "exit 0"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	ctx := context.Background()

	launched, _, err := f.svc.AutoStart(ctx, StartParams{Session: "s1", SourcePath: "missing.mp4", DestinationKey: "k"})
	if launched || ErrorCode(err) != ErrCodeSourceNotFound {
		t.Fatalf("AutoStart = %v, %v; want failure with %s", launched, err, ErrCodeSourceNotFound)
	}

	launched, _, err = f.svc.AutoStart(ctx, StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"})
	if launched || err != nil {
		t.Errorf("retry after failure = %v, %v; want skipped", launched, err)
	}

	// Interactive starts are not gated by the guard
	if _, err := f.svc.StartJob(ctx, StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"}); err != nil {
		t.Errorf("StartJob after failed auto-start: %v", err)
	}
}

func TestJobEventsPublished(t *testing.T) {
	f := newFixture(t, writeScript(t, "echo one\necho two >&2\nexit 3"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")

	lines := make(chan events.JobLogLineEvent, 16)
	ended := make(chan events.JobEndedEvent, 1)
	states := make(chan events.JobStateChangedEvent, 8)
	defer f.bus.Subscribe(func(e events.JobLogLineEvent) { lines <- e })()
	defer f.bus.Subscribe(func(e events.JobEndedEvent) { ended <- e })()
	defer f.bus.Subscribe(func(e events.JobStateChangedEvent) { states <- e })()

	info, err := f.svc.StartJob(context.Background(), StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-ended:
		if e.JobID != info.ID || e.State != string(process.StateCompleted) || e.ExitCode != 3 {
			t.Errorf("ended event = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no JobEndedEvent")
	}

	var got []string
	for len(got) < 2 {
		select {
		case e := <-lines:
			if e.JobID != info.ID {
				t.Errorf("line event for job %s, want %s", e.JobID, info.ID)
			}
			got = append(got, e.Text)
		case <-time.After(time.Second):
			t.Fatalf("got lines %v, want 2", got)
		}
	}
	if !slices.Equal(got, []string{"one", "two"}) {
		t.Errorf("lines = %v, want [one two]", got)
	}

	var transitions []string
	for len(transitions) < 2 {
		select {
		case e := <-states:
			transitions = append(transitions, e.NewState)
		case <-time.After(time.Second):
			t.Fatalf("transitions = %v", transitions)
		}
	}
	if !slices.Equal(transitions, []string{"running", "completed"}) {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestListJobsAndSessions(t *testing.T) {
	f := newFixture(t, writeScript(t, "exit 0"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	ctx := context.Background()

	sess := f.svc.CreateSession(ctx)
	if sess.ID == "" || sess.AutoStartFired || sess.HasJob {
		t.Errorf("new session = %+v", sess)
	}

	for _, id := range []string{"b", "a"} {
		if _, err := f.svc.StartJob(ctx, StartParams{Session: id, SourcePath: video, DestinationKey: "k"}); err != nil {
			t.Fatal(err)
		}
		waitTerminal(t, f.svc, id)
	}

	jobs := f.svc.ListJobs(ctx)
	if len(jobs) != 2 || jobs[0].SessionID != "a" || jobs[1].SessionID != "b" {
		t.Errorf("ListJobs = %+v, want sessions [a b]", jobs)
	}
}

func TestExpireSessionsKeepsLiveJobs(t *testing.T) {
	f := newFixture(t, writeScript(t, "exec sleep 30"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	ctx := context.Background()

	idle := f.svc.CreateSession(ctx)
	if _, err := f.svc.StartJob(ctx, StartParams{Session: "busy", SourcePath: video, DestinationKey: "k"}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	removed := f.svc.ExpireSessions(0)
	if !slices.Equal(removed, []string{idle.ID}) {
		t.Errorf("removed = %v, want [%s]", removed, idle.ID)
	}
	if _, err := f.svc.GetJob(ctx, "busy"); err != nil {
		t.Errorf("live job was dropped: %v", err)
	}
}

func TestAutoStartNotRepeatedAfterExpiry(t *testing.T) {
	f := newFixture(t, writeScript(t, "echo done"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	params := StartParams{Session: "page-1", SourcePath: video, DestinationKey: "k"}
	ctx := context.Background()

	launched, _, err := f.svc.AutoStart(ctx, params)
	if !launched || err != nil {
		t.Fatalf("first AutoStart = %v, %v; want launched", launched, err)
	}
	waitTerminal(t, f.svc, "page-1")

	time.Sleep(5 * time.Millisecond)
	if removed := f.svc.ExpireSessions(0); !slices.Equal(removed, []string{"page-1"}) {
		t.Fatalf("removed = %v, want [page-1]", removed)
	}

	launched, info, err := f.svc.AutoStart(ctx, params)
	if launched || err != nil {
		t.Fatalf("AutoStart after expiry = %v, %v; want skipped", launched, err)
	}
	if info != nil {
		t.Errorf("expired session should have no job, got %+v", info)
	}
}

func TestShutdownStopsJobs(t *testing.T) {
	f := newFixture(t, writeScript(t, "exec sleep 30"))
	video := writeMedia(t, f.mediaDir, "clip.mp4")
	ctx := context.Background()

	if _, err := f.svc.StartJob(ctx, StartParams{Session: "s1", SourcePath: video, DestinationKey: "k"}); err != nil {
		t.Fatal(err)
	}

	f.svc.Shutdown()

	info, err := f.svc.GetJob(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != process.StateCancelled {
		t.Errorf("state after Shutdown = %s, want cancelled", info.State)
	}

	if _, err := f.svc.StartJob(ctx, StartParams{Session: "s2", SourcePath: video, DestinationKey: "k"}); ErrorCode(err) != ErrCodeShuttingDown {
		t.Errorf("StartJob after Shutdown error = %v, want %s", err, ErrCodeShuttingDown)
	}
}
