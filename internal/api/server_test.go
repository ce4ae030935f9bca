package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/smazurov/loopcast/internal/api/models"
	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/process"
	"github.com/smazurov/loopcast/internal/streams"
)

// fakeStreamService is a scripted streams.Service.
type fakeStreamService struct {
	mu        sync.Mutex
	startErr  error
	started   []streams.StartParams
	autoStart func(streams.StartParams) (bool, *streams.JobInfo, error)
	jobs      map[string]*streams.JobInfo
	lines     map[string][]process.Line
	linesRead chan struct{}
	readOnce  sync.Once
}

func newFakeStreamService() *fakeStreamService {
	return &fakeStreamService{
		jobs:      make(map[string]*streams.JobInfo),
		lines:     make(map[string][]process.Line),
		linesRead: make(chan struct{}),
	}
}

func (f *fakeStreamService) setJob(info streams.JobInfo, lines ...process.Line) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[info.SessionID] = &info
	f.lines[info.SessionID] = lines
}

func (f *fakeStreamService) CreateSession(_ context.Context) streams.SessionInfo {
	return streams.SessionInfo{ID: "new-session", CreatedAt: time.Unix(1700000000, 0).UTC()}
}

func (f *fakeStreamService) StartJob(_ context.Context, params streams.StartParams) (*streams.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, params)
	if f.startErr != nil {
		return nil, f.startErr
	}
	info := &streams.JobInfo{
		ID:         "job-1",
		SessionID:  params.Session,
		Trigger:    streams.TriggerManual,
		SourcePath: params.SourcePath,
		Vertical:   streams.ParseMode(params.Mode),
		State:      process.StateRunning,
		ExitCode:   -1,
	}
	f.jobs[params.Session] = info
	return info, nil
}

func (f *fakeStreamService) AutoStart(_ context.Context, params streams.StartParams) (bool, *streams.JobInfo, error) {
	if f.autoStart != nil {
		return f.autoStart(params)
	}
	return false, nil, nil
}

func (f *fakeStreamService) CancelJob(_ context.Context, sessionID string) (*streams.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.jobs[sessionID]
	if !ok {
		return nil, streams.NewStreamError(streams.ErrCodeJobNotFound, "no job for session "+sessionID, nil)
	}
	info.State = process.StateCancelled
	cp := *info
	return &cp, nil
}

func (f *fakeStreamService) GetJob(_ context.Context, sessionID string) (*streams.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.jobs[sessionID]
	if !ok {
		return nil, streams.NewStreamError(streams.ErrCodeJobNotFound, "no job for session "+sessionID, nil)
	}
	cp := *info
	return &cp, nil
}

func (f *fakeStreamService) ListJobs(_ context.Context) []streams.JobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]streams.JobInfo, 0, len(f.jobs))
	for _, info := range f.jobs {
		out = append(out, *info)
	}
	return out
}

func (f *fakeStreamService) JobLines(_ context.Context, sessionID string) ([]process.Line, error) {
	defer f.readOnce.Do(func() { close(f.linesRead) })
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[sessionID]; !ok {
		return nil, streams.NewStreamError(streams.ErrCodeJobNotFound, "no job for session "+sessionID, nil)
	}
	return append([]process.Line(nil), f.lines[sessionID]...), nil
}

func (f *fakeStreamService) ExpireSessions(time.Duration) []string { return nil }

func (f *fakeStreamService) Shutdown() {}

func newTestServer(t *testing.T, svc streams.Service, bus *events.Bus) (*Server, humatest.TestAPI) {
	t.Helper()
	server := NewServer(&Options{
		StreamService: svc,
		EventBus:      bus,
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("loopcast_jobs_active 0\n"))
		}),
	})
	return server, humatest.Wrap(t, server.GetAPI())
}

func TestHealthAndVersion(t *testing.T) {
	_, api := newTestServer(t, newFakeStreamService(), nil)

	resp := api.Get("/api/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("health status = %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"ok"`) {
		t.Errorf("health body = %s", resp.Body.String())
	}

	resp = api.Get("/api/version")
	if resp.Code != http.StatusOK {
		t.Fatalf("version status = %d", resp.Code)
	}
	var v models.VersionData
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if v.GoVersion == "" {
		t.Error("go_version missing")
	}
}

func TestCreateSession(t *testing.T) {
	_, api := newTestServer(t, newFakeStreamService(), nil)

	resp := api.Post("/api/sessions", map[string]any{})
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	var data models.SessionData
	if err := json.Unmarshal(resp.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.SessionID != "new-session" || data.AutoStartFired {
		t.Errorf("session = %+v", data)
	}
}

func TestStartJob(t *testing.T) {
	svc := newFakeStreamService()
	_, api := newTestServer(t, svc, nil)

	resp := api.Post("/api/sessions/s1/job", map[string]any{
		"video": "loop.mp4",
		"key":   "abcd-1234",
		"mode":  "Shorts",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var job models.JobData
	if err := json.Unmarshal(resp.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.SessionID != "s1" || job.State != "running" || !job.Vertical {
		t.Errorf("job = %+v", job)
	}

	want := streams.StartParams{Session: "s1", SourcePath: "loop.mp4", DestinationKey: "abcd-1234", Mode: "Shorts"}
	if len(svc.started) != 1 || svc.started[0] != want {
		t.Errorf("started = %+v, want %+v", svc.started, want)
	}
}

func TestStartJobRejectsEmptyBodyFields(t *testing.T) {
	svc := newFakeStreamService()
	_, api := newTestServer(t, svc, nil)

	resp := api.Post("/api/sessions/s1/job", map[string]any{"video": "", "key": "k"})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.Code)
	}
	if len(svc.started) != 0 {
		t.Error("service called for invalid body")
	}
}

func TestStartJobErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{streams.ErrCodeInvalidRequest, http.StatusBadRequest},
		{streams.ErrCodeSourceNotFound, http.StatusUnprocessableEntity},
		{streams.ErrCodeJobActive, http.StatusConflict},
		{streams.ErrCodeJobNotFound, http.StatusNotFound},
		{streams.ErrCodeShuttingDown, http.StatusServiceUnavailable},
		{streams.ErrCodeSpawnFailed, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := newFakeStreamService()
			svc.startErr = streams.NewStreamError(tt.code, "boom", nil)
			_, api := newTestServer(t, svc, nil)

			resp := api.Post("/api/sessions/s1/job", map[string]any{"video": "a.mp4", "key": "k"})
			if resp.Code != tt.want {
				t.Errorf("status = %d, want %d", resp.Code, tt.want)
			}
		})
	}
}

func TestAutoStartEndpoint(t *testing.T) {
	svc := newFakeStreamService()
	var got streams.StartParams
	svc.autoStart = func(p streams.StartParams) (bool, *streams.JobInfo, error) {
		got = p
		return true, &streams.JobInfo{ID: "job-9", SessionID: p.Session, State: process.StateRunning}, nil
	}
	_, api := newTestServer(t, svc, nil)

	resp := api.Get("/api/sessions/s2/autostart?video=loop.mp4&key=secret&mode=shorts")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var data models.AutoStartData
	if err := json.Unmarshal(resp.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !data.Launched || data.Job == nil || data.Job.JobID != "job-9" {
		t.Errorf("autostart = %+v", data)
	}
	want := streams.StartParams{Session: "s2", SourcePath: "loop.mp4", DestinationKey: "secret", Mode: "shorts"}
	if got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
}

func TestAutoStartMissingParams(t *testing.T) {
	_, api := newTestServer(t, newFakeStreamService(), nil)

	resp := api.Get("/api/sessions/s3/autostart?video=loop.mp4")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"launched":false`) {
		t.Errorf("body = %s", resp.Body.String())
	}
}

func TestGetJobIncludesLines(t *testing.T) {
	svc := newFakeStreamService()
	now := time.Now()
	svc.setJob(streams.JobInfo{
		ID:        "job-1",
		SessionID: "s1",
		State:     process.StateCompleted,
		ExitCode:  0,
		StartedAt: now.Add(-time.Second),
		EndedAt:   now,
	}, process.Line{Seq: 1, Text: "first", Time: now}, process.Line{Seq: 2, Text: "second", Time: now})
	_, api := newTestServer(t, svc, nil)

	resp := api.Get("/api/sessions/s1/job")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var job models.JobData
	if err := json.Unmarshal(resp.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(job.Lines) != 2 || job.Lines[0].Text != "first" || job.Lines[1].Seq != 2 {
		t.Errorf("lines = %+v", job.Lines)
	}
	if job.StartedAt == nil || job.EndedAt == nil {
		t.Error("timestamps missing")
	}

	if resp := api.Get("/api/sessions/missing/job"); resp.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", resp.Code)
	}
}

func TestCancelAndListJobs(t *testing.T) {
	svc := newFakeStreamService()
	svc.setJob(streams.JobInfo{ID: "job-1", SessionID: "s1", State: process.StateRunning})
	_, api := newTestServer(t, svc, nil)

	resp := api.Delete("/api/sessions/s1/job")
	if resp.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"state":"cancelled"`) {
		t.Errorf("cancel body = %s", resp.Body.String())
	}

	resp = api.Get("/api/jobs")
	var list models.JobListData
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Jobs[0].State != "cancelled" {
		t.Errorf("list = %+v", list)
	}

	if resp := api.Delete("/api/sessions/nope/job"); resp.Code != http.StatusNotFound {
		t.Errorf("cancel missing status = %d, want 404", resp.Code)
	}
}

func TestMetricsAndCORS(t *testing.T) {
	_, api := newTestServer(t, newFakeStreamService(), nil)

	resp := api.Get("/metrics")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "loopcast_jobs_active") {
		t.Errorf("metrics = %d %q", resp.Code, resp.Body.String())
	}

	resp = api.Do(http.MethodOptions, "/api/jobs")
	if resp.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestJobLogsFinishedJob(t *testing.T) {
	svc := newFakeStreamService()
	now := time.Now()
	svc.setJob(streams.JobInfo{
		ID:        "job-1",
		SessionID: "s1",
		State:     process.StateCompleted,
		EndedAt:   now,
	}, process.Line{Seq: 1, Text: "one", Time: now}, process.Line{Seq: 2, Text: "two", Time: now})
	_, api := newTestServer(t, svc, nil)

	resp := api.Get("/api/sessions/s1/job/logs")
	body := resp.Body.String()

	one := strings.Index(body, `"text":"one"`)
	two := strings.Index(body, `"text":"two"`)
	end := strings.Index(body, "event: end")
	if one < 0 || two < 0 || end < 0 {
		t.Fatalf("stream missing events:\n%s", body)
	}
	if one >= two || two >= end {
		t.Errorf("events out of order:\n%s", body)
	}
}

func TestJobLogsUnknownSession(t *testing.T) {
	_, api := newTestServer(t, newFakeStreamService(), nil)

	resp := api.Get("/api/sessions/nope/job/logs")
	if !strings.Contains(resp.Body.String(), "event: error") {
		t.Errorf("want error event, got:\n%s", resp.Body.String())
	}
}

func TestJobLogsLive(t *testing.T) {
	bus := events.New()
	svc := newFakeStreamService()
	now := time.Now()
	svc.setJob(streams.JobInfo{ID: "job-1", SessionID: "s1", State: process.StateRunning},
		process.Line{Seq: 1, Text: "buffered", Time: now})
	server, _ := newTestServer(t, svc, bus)

	ts := httptest.NewServer(server.GetMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/s1/job/logs")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	select {
	case <-svc.linesRead:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never took a snapshot")
	}

	// Duplicate of the buffered line, a line from another job, then a new line.
	bus.Publish(events.JobLogLineEvent{SessionID: "s1", JobID: "job-1", Seq: 1, Text: "buffered"})
	bus.Publish(events.JobLogLineEvent{SessionID: "s9", JobID: "job-9", Seq: 2, Text: "foreign"})
	bus.Publish(events.JobLogLineEvent{SessionID: "s1", JobID: "job-1", Seq: 2, Text: "live"})

	// The end event only follows once the live line has been read.
	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var got []string
	ended := false
	timeout := time.After(3 * time.Second)
	for !ended {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early, got %v", got)
			}
			if strings.HasPrefix(line, "data:") {
				got = append(got, line)
			}
			if strings.Contains(line, `"text":"live"`) {
				svc.setJob(streams.JobInfo{ID: "job-1", SessionID: "s1", State: process.StateCompleted},
					process.Line{Seq: 1, Text: "buffered"}, process.Line{Seq: 2, Text: "live"})
				bus.Publish(events.JobEndedEvent{SessionID: "s1", JobID: "job-1", State: "completed"})
			}
			if line == "event: end" {
				ended = true
			}
		case <-timeout:
			t.Fatalf("timeout, got %v", got)
		}
	}

	joined := strings.Join(got, "\n")
	if strings.Count(joined, `"text":"buffered"`) != 1 {
		t.Errorf("buffered line not deduplicated:\n%s", joined)
	}
	if strings.Contains(joined, "foreign") {
		t.Errorf("line from another job leaked:\n%s", joined)
	}
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"video=a.mp4", "video=a.mp4"},
		{"video=a.mp4&key=secret", "key=%2A%2A%2A%2A&video=a.mp4"},
		{"monkey=1", "monkey=1"},
	}
	for _, tt := range tests {
		if got := redactQuery(tt.in); got != tt.want {
			t.Errorf("redactQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequestLogLevel(t *testing.T) {
	tests := []struct {
		method, path string
		status       int
		want         string
	}{
		{"GET", "/api/sessions/s1/job", 200, "INFO"},
		{"GET", "/api/health", 200, "DEBUG"},
		{"OPTIONS", "/api/jobs", 204, "DEBUG"},
		{"POST", "/api/sessions/s1/job", 409, "WARN"},
		{"GET", "/api/health", 500, "ERROR"},
	}
	for _, tt := range tests {
		if got := requestLogLevel(tt.method, tt.path, tt.status).String(); got != tt.want {
			t.Errorf("requestLogLevel(%s %s %d) = %s, want %s", tt.method, tt.path, tt.status, got, tt.want)
		}
	}
}
