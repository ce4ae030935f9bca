package streams

import (
	"time"

	"github.com/smazurov/loopcast/internal/metrics"
	"github.com/smazurov/loopcast/internal/process"
)

// StartParams is a request to stream one source to one destination key.
type StartParams struct {
	Session        string
	SourcePath     string
	DestinationKey string
	Mode           string
}

// Launch triggers.
const (
	TriggerManual    = metrics.TriggerManual
	TriggerAutoStart = metrics.TriggerAutoStart
)

// Auto-start outcomes.
const (
	OutcomeLaunched      = "launched"
	OutcomeMissingParams = "skipped_missing_params"
	OutcomeAlreadyFired  = "skipped_already_fired"
	OutcomeLaunchFailed  = "failed"
)

// JobInfo describes the most recent job of a session.
type JobInfo struct {
	ID         string
	SessionID  string
	Trigger    string
	SourcePath string
	Vertical   bool
	Command    string // destination key masked
	State      process.State
	PID        int
	StartedAt  time.Time
	EndedAt    time.Time
	ExitCode   int
	Error      string
	LineCount  uint64
	Progress   *metrics.Progress
}

// Active reports whether the job has not reached a terminal state.
func (j JobInfo) Active() bool {
	return !j.State.Terminal()
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID             string
	CreatedAt      time.Time
	AutoStartFired bool
	HasJob         bool
}
