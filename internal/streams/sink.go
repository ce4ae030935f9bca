package streams

import (
	"sort"
	"time"

	"github.com/smazurov/loopcast/internal/events"
	"github.com/smazurov/loopcast/internal/metrics"
	"github.com/smazurov/loopcast/internal/process"
)

// newSink forwards a job's output and terminal result to metrics and the event bus.
func (s *service) newSink(rec *jobRecord) process.Sink {
	return process.SinkFuncs{
		Line: func(line process.Line) {
			metrics.JobOutputLine()
			metrics.ObserveLine(rec.sessionID, rec.id, line.Text)
			if s.eventBus != nil {
				s.eventBus.Publish(events.JobLogLineEvent{
					SessionID: rec.sessionID,
					JobID:     rec.id,
					Seq:       line.Seq,
					Text:      line.Text,
					Timestamp: line.Time.Format(time.RFC3339Nano),
				})
			}
		},
		End: func(result process.Result) {
			metrics.JobEnded(string(result.State), !result.StartedAt.IsZero())
			metrics.DeleteProgress(rec.sessionID, rec.id)

			logArgs := []any{
				"session_id", rec.sessionID,
				"job_id", rec.id,
				"state", string(result.State),
				"exit_code", result.ExitCode,
			}
			if result.Err != nil {
				s.logger.Warn("Job ended", append(logArgs, "error", result.Err)...)
			} else {
				s.logger.Info("Job ended", logArgs...)
			}

			if s.eventBus == nil {
				return
			}
			ev := events.JobEndedEvent{
				SessionID: rec.sessionID,
				JobID:     rec.id,
				State:     string(result.State),
				ExitCode:  result.ExitCode,
				EndedAt:   result.EndedAt.Format(time.RFC3339Nano),
			}
			if result.Err != nil {
				ev.Error = result.Err.Error()
			}
			if !result.StartedAt.IsZero() {
				ev.StartedAt = result.StartedAt.Format(time.RFC3339Nano)
			}
			s.eventBus.Publish(ev)
		},
	}
}

// stateChangeHandler publishes a job's state transitions. The running
// transition is delivered before the job's end, so the active gauge is
// incremented before JobEnded decrements it.
func (s *service) stateChangeHandler(rec *jobRecord) process.StateChangeCallback {
	return func(_ string, oldState, newState process.State, err error) {
		if newState == process.StateRunning {
			metrics.JobStarted(rec.trigger, rec.request.Vertical)
		}
		if s.eventBus == nil {
			return
		}
		ev := events.JobStateChangedEvent{
			SessionID: rec.sessionID,
			JobID:     rec.id,
			OldState:  string(oldState),
			NewState:  string(newState),
			Timestamp: time.Now().Format(time.RFC3339),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		s.eventBus.Publish(ev)
	}
}

func sortJobInfos(infos []JobInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SessionID < infos[j].SessionID
	})
}
