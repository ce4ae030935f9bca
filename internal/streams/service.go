package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/ffmpeg"
	"github.com/smazurov/loopcast/internal/logging"
	"github.com/smazurov/loopcast/internal/metrics"
	"github.com/smazurov/loopcast/internal/process"
	"github.com/smazurov/loopcast/internal/session"
)

// Service launches and supervises one stream job per session.
type Service interface {
	// CreateSession registers a new session with an unfired auto-start guard.
	CreateSession(ctx context.Context) SessionInfo

	// StartJob validates params and launches a job for the session.
	StartJob(ctx context.Context, params StartParams) (*JobInfo, error)

	// AutoStart launches a job only when source and key are both present and
	// this is the first such call for the session. launched reports whether
	// this call started the job.
	AutoStart(ctx context.Context, params StartParams) (launched bool, info *JobInfo, err error)

	// CancelJob terminates the session's job and waits for it to end.
	CancelJob(ctx context.Context, sessionID string) (*JobInfo, error)

	// GetJob returns the session's most recent job.
	GetJob(ctx context.Context, sessionID string) (*JobInfo, error)

	// ListJobs returns the most recent job of every session.
	ListJobs(ctx context.Context) []JobInfo

	// JobLines returns the buffered output lines of the session's most recent job.
	JobLines(ctx context.Context, sessionID string) ([]process.Line, error)

	// ExpireSessions drops sessions idle for longer than maxIdle that have no live job.
	ExpireSessions(maxIdle time.Duration) []string

	// Shutdown cancels every live job and waits for them.
	Shutdown()
}

// ServiceOptions configures the stream service.
type ServiceOptions struct {
	Builder         ffmpeg.Builder
	MediaDir        string // base for relative source paths
	LogLines        int
	GracefulTimeout time.Duration
	KillTimeout     time.Duration
	StopTimeout     time.Duration
	EventBus        *events.Bus    // optional
	Sessions        *session.Store // created when nil
	Logger          logging.Logger // defaults to the "streams" module logger
	OutputLogger    logging.Logger // defaults to the "ffmpeg" module logger
}

type jobRecord struct {
	id        string
	sessionID string
	trigger   string
	request   ffmpeg.Request
	job       *process.Job
}

type service struct {
	builder      ffmpeg.Builder
	mediaDir     string
	pool         process.Pool
	sessions     *session.Store
	eventBus     *events.Bus
	logger       logging.Logger
	outputLogger logging.Logger

	mu      sync.RWMutex
	records map[string]*jobRecord
	launch  sync.Mutex // serialises slot check and record swap
}

// NewStreamService creates the stream service.
func NewStreamService(opts *ServiceOptions) Service {
	if opts == nil {
		opts = &ServiceOptions{}
	}

	s := &service{
		builder:      opts.Builder,
		mediaDir:     opts.MediaDir,
		sessions:     opts.Sessions,
		eventBus:     opts.EventBus,
		logger:       opts.Logger,
		outputLogger: opts.OutputLogger,
		records:      make(map[string]*jobRecord),
	}
	if s.builder.Binary == "" && s.builder.IngestBase == "" {
		s.builder = ffmpeg.NewBuilder()
	}
	if s.sessions == nil {
		s.sessions = session.NewStore()
	}
	if s.logger == nil {
		s.logger = logging.GetLogger("streams")
	}
	if s.outputLogger == nil {
		s.outputLogger = logging.GetLogger("ffmpeg")
	}

	s.pool = process.NewPool(&process.PoolOptions{
		GracefulTimeout: opts.GracefulTimeout,
		KillTimeout:     opts.KillTimeout,
		StopTimeout:     opts.StopTimeout,
		MaxLines:        opts.LogLines,
		Logger:          logging.GetLogger("process"),
		ConfigureJob: func(string) []process.Option {
			return []process.Option{process.WithLogParser(s.outputLogger, parseOutputLevel)}
		},
	})

	return s
}

// parseOutputLevel demotes progress lines to debug so they do not flood info logs.
func parseOutputLevel(line string) (level, msg string) {
	if _, ok := metrics.ParseProgressLine(line); ok {
		return "debug", line
	}
	return ffmpeg.ParseLogLevel(line)
}

func (s *service) CreateSession(_ context.Context) SessionInfo {
	sess := s.sessions.Create()
	s.logger.Info("Session created", "session_id", sess.ID)
	return s.sessionInfo(sess)
}

func (s *service) StartJob(ctx context.Context, params StartParams) (*JobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Session) == "" {
		return nil, NewStreamError(ErrCodeInvalidRequest, "session id is required", nil)
	}

	req, err := s.resolveRequest(params)
	if err != nil {
		return nil, err
	}

	sess := s.sessions.GetOrCreate(params.Session)
	return s.launchJob(sess.ID, TriggerManual, req)
}

func (s *service) AutoStart(ctx context.Context, params StartParams) (bool, *JobInfo, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	if strings.TrimSpace(params.Session) == "" {
		return false, nil, NewStreamError(ErrCodeInvalidRequest, "session id is required", nil)
	}

	if strings.TrimSpace(params.SourcePath) == "" || strings.TrimSpace(params.DestinationKey) == "" {
		s.recordDecision(params.Session, OutcomeMissingParams)
		return false, s.currentInfo(params.Session), nil
	}

	sess := s.sessions.GetOrCreate(params.Session)
	if !sess.Guard.TryAcquire() {
		s.recordDecision(sess.ID, OutcomeAlreadyFired)
		return false, s.currentInfo(sess.ID), nil
	}

	req, err := s.resolveRequest(params)
	if err == nil {
		var info *JobInfo
		info, err = s.launchJob(sess.ID, TriggerAutoStart, req)
		if err == nil {
			s.recordDecision(sess.ID, OutcomeLaunched)
			return true, info, nil
		}
	}

	s.recordDecision(sess.ID, OutcomeLaunchFailed)
	s.logger.Warn("Auto-start failed, guard stays fired", "session_id", sess.ID, "error", err)
	return false, s.currentInfo(sess.ID), err
}

func (s *service) CancelJob(ctx context.Context, sessionID string) (*JobInfo, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cancelling job", "session_id", sessionID, "job_id", rec.id)
	rec.job.Cancel()

	if _, waitErr := rec.job.Wait(ctx); waitErr != nil {
		return nil, fmt.Errorf("waiting for job %s: %w", rec.id, waitErr)
	}

	info := s.info(rec)
	return &info, nil
}

func (s *service) GetJob(_ context.Context, sessionID string) (*JobInfo, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	info := s.info(rec)
	return &info, nil
}

func (s *service) ListJobs(_ context.Context) []JobInfo {
	s.mu.RLock()
	recs := make([]*jobRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, s.info(rec))
	}
	sortJobInfos(infos)
	return infos
}

func (s *service) JobLines(_ context.Context, sessionID string) ([]process.Line, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}
	return rec.job.Lines(), nil
}

func (s *service) ExpireSessions(maxIdle time.Duration) []string {
	removed := s.sessions.Expire(maxIdle, func(id string) bool {
		info := s.currentInfo(id)
		return info != nil && info.Active()
	})

	if len(removed) > 0 {
		s.mu.Lock()
		for _, id := range removed {
			delete(s.records, id)
		}
		s.mu.Unlock()
		s.logger.Info("Expired idle sessions", "count", len(removed))
	}
	return removed
}

func (s *service) Shutdown() {
	s.logger.Info("Shutting down stream service")
	s.pool.StopAll()
}

// resolveRequest validates params against the service's media directory.
func (s *service) resolveRequest(params StartParams) (ffmpeg.Request, error) {
	return ResolveRequest(params, s.mediaDir)
}

// launchJob builds the command and starts it in the session's slot.
func (s *service) launchJob(sessionID, trigger string, req ffmpeg.Request) (*JobInfo, error) {
	cmd := s.builder.Build(req)
	rec := &jobRecord{
		id:        uuid.NewString(),
		sessionID: sessionID,
		trigger:   trigger,
		request:   req,
	}

	s.launch.Lock()
	defer s.launch.Unlock()

	job, err := s.pool.Start(sessionID, process.Command{
		Program: cmd.Program,
		Args:    cmd.Args,
		Display: cmd.String(),
	}, s.newSink(rec), process.WithStateChange(s.stateChangeHandler(rec)))

	switch {
	case errors.Is(err, process.ErrSlotBusy):
		return nil, NewStreamError(ErrCodeJobActive, "session already has a running job", err)
	case errors.Is(err, context.Canceled):
		return nil, NewStreamError(ErrCodeShuttingDown, "service is shutting down", err)
	case job == nil:
		return nil, NewStreamError(ErrCodeSpawnFailed, "failed to start job", err)
	}

	rec.job = job
	s.mu.Lock()
	s.records[sessionID] = rec
	s.mu.Unlock()

	info := s.info(rec)
	if err != nil {
		return &info, NewStreamError(ErrCodeSpawnFailed, "failed to start encoder", err)
	}

	s.logger.Info("Job started",
		"session_id", sessionID,
		"job_id", rec.id,
		"trigger", trigger,
		"source", req.SourcePath,
		"vertical", req.Vertical,
		"command", cmd.String())
	return &info, nil
}

func (s *service) record(sessionID string) (*jobRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewStreamError(ErrCodeJobNotFound, "no job for session "+sessionID, nil)
	}
	return rec, nil
}

func (s *service) currentInfo(sessionID string) *JobInfo {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil
	}
	info := s.info(rec)
	return &info
}

func (s *service) info(rec *jobRecord) JobInfo {
	pi := rec.job.Info()
	info := JobInfo{
		ID:         rec.id,
		SessionID:  rec.sessionID,
		Trigger:    rec.trigger,
		SourcePath: rec.request.SourcePath,
		Vertical:   rec.request.Vertical,
		Command:    pi.Command,
		State:      pi.State,
		PID:        pi.PID,
		StartedAt:  pi.StartedAt,
		EndedAt:    pi.EndedAt,
		ExitCode:   pi.ExitCode,
		LineCount:  pi.LineCount,
	}
	if pi.LastError != nil {
		info.Error = pi.LastError.Error()
	}
	if !pi.State.Terminal() {
		info.Progress = metrics.GetProgress(rec.sessionID)
	}
	return info
}

func (s *service) sessionInfo(sess *session.Session) SessionInfo {
	s.mu.RLock()
	_, hasJob := s.records[sess.ID]
	s.mu.RUnlock()
	return SessionInfo{
		ID:             sess.ID,
		CreatedAt:      sess.CreatedAt,
		AutoStartFired: sess.Guard.Fired(),
		HasJob:         hasJob,
	}
}

func (s *service) recordDecision(sessionID, outcome string) {
	metrics.AutoStartDecision(outcome)
	s.logger.Debug("Auto-start decision", "session_id", sessionID, "outcome", outcome)
	if s.eventBus != nil {
		s.eventBus.Publish(events.AutoStartDecisionEvent{
			SessionID: sessionID,
			Outcome:   outcome,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}
