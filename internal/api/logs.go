package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/loopcast/internal/api/models"
	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/logging"
	"github.com/smazurov/loopcast/internal/process"
	"github.com/smazurov/loopcast/internal/streams"
)

// registerLogRoutes registers the application log SSE endpoint.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time application logs via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before reading the buffer so nothing falls in between
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var lastSeq uint64
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if err := send.Data(logEntryEvent(entry)); err != nil {
					return
				}
				lastSeq = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				entry, ok := ev.(events.LogEntryEvent)
				if !ok || entry.Seq <= lastSeq {
					continue
				}
				if err := send.Data(entry); err != nil {
					return
				}
				lastSeq = entry.Seq
			}
		}
	})
}

// registerJobLogRoutes registers the per-job output SSE endpoint.
func (s *Server) registerJobLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "job-logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{session_id}/job/logs",
		Summary:     "Job Output Stream",
		Description: "Encoder output of the session's job: buffered lines first, then live lines, then one end event.",
		Tags:        []string{"jobs", "logs"},
	}, map[string]any{
		"line":  events.JobLogLineEvent{},
		"end":   events.JobEndedEvent{},
		"error": models.ErrorData{},
	}, func(ctx context.Context, input *models.SessionPath, send sse.Sender) {
		s.streamJobLogs(ctx, input.SessionID, send)
	})
}

func (s *Server) streamJobLogs(ctx context.Context, sessionID string, send sse.Sender) {
	info, err := s.streamService.GetJob(ctx, sessionID)
	if err != nil {
		_ = send.Data(models.ErrorData{Status: "error", Message: errorMessage(err)})
		return
	}
	jobID := info.ID

	lineCh := make(chan any, 256)
	endCh := make(chan any, 1)
	unsubLines := events.SubscribeFiltered(s.eventBus, lineCh, func(e events.JobLogLineEvent) bool {
		return e.JobID == jobID
	})
	defer unsubLines()
	unsubEnd := events.SubscribeFiltered(s.eventBus, endCh, func(e events.JobEndedEvent) bool {
		return e.JobID == jobID
	})
	defer unsubEnd()

	var lastSeq uint64

	// flush sends buffered lines newer than lastSeq and returns the job's
	// current snapshot, or nil once the session has moved on to another job.
	flush := func() (*streams.JobInfo, bool) {
		lines, err := s.streamService.JobLines(ctx, sessionID)
		if err != nil {
			return nil, true
		}
		cur, err := s.streamService.GetJob(ctx, sessionID)
		if err != nil || cur.ID != jobID {
			return nil, true
		}
		for _, l := range lines {
			if l.Seq <= lastSeq {
				continue
			}
			if err := send.Data(lineEvent(sessionID, jobID, l)); err != nil {
				return nil, false
			}
			lastSeq = l.Seq
		}
		return cur, true
	}

	cur, ok := flush()
	if !ok {
		return
	}
	if cur == nil {
		_ = send.Data(models.ErrorData{Status: "error", Message: "job was replaced"})
		return
	}
	if cur.State.Terminal() {
		_ = send.Data(jobEndedEvent(*cur))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-lineCh:
			line, ok := ev.(events.JobLogLineEvent)
			if !ok || line.Seq <= lastSeq {
				continue
			}
			if err := send.Data(line); err != nil {
				return
			}
			lastSeq = line.Seq
		case ev := <-endCh:
			// Line and end events travel on separate subscriptions; pick up
			// any lines still queued behind the end event from the buffer.
			if _, ok := flush(); !ok {
				return
			}
			_ = send.Data(ev)
			return
		}
	}
}

func logEntryEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

func lineEvent(sessionID, jobID string, l process.Line) events.JobLogLineEvent {
	return events.JobLogLineEvent{
		SessionID: sessionID,
		JobID:     jobID,
		Seq:       l.Seq,
		Text:      l.Text,
		Timestamp: l.Time.Format(time.RFC3339Nano),
	}
}

func jobEndedEvent(info streams.JobInfo) events.JobEndedEvent {
	ev := events.JobEndedEvent{
		SessionID: info.SessionID,
		JobID:     info.ID,
		State:     string(info.State),
		ExitCode:  info.ExitCode,
		Error:     info.Error,
		EndedAt:   info.EndedAt.Format(time.RFC3339Nano),
	}
	if !info.StartedAt.IsZero() {
		ev.StartedAt = info.StartedAt.Format(time.RFC3339Nano)
	}
	return ev
}

func errorMessage(err error) string {
	var se *streams.StreamError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
