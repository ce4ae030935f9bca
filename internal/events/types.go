package events

// Event type constants for kelindar/event.
const (
	TypeJobStateChanged uint32 = iota + 1
	TypeJobLogLine
	TypeJobEnded
	TypeAutoStartDecision
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// JobStateChangedEvent is published on every job state transition.
type JobStateChangedEvent struct {
	SessionID string `json:"session_id" example:"3f0c9a1e-7b2d-4c55-9a0e-2f6d1c8b7a10" doc:"Session that owns the job"`
	JobID     string `json:"job_id" doc:"Unique id of this launch"`
	OldState  string `json:"old_state" example:"pending" doc:"Previous state"`
	NewState  string `json:"new_state" example:"running" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Failure description for the failed state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition time"`
}

// Type returns the event type identifier for JobStateChangedEvent.
func (e JobStateChangedEvent) Type() uint32 { return TypeJobStateChanged }

// JobLogLineEvent carries one line of combined encoder output.
type JobLogLineEvent struct {
	SessionID string `json:"session_id" doc:"Session that owns the job"`
	JobID     string `json:"job_id" doc:"Unique id of this launch"`
	Seq       uint64 `json:"seq" example:"17" doc:"Per-job line sequence number"`
	Text      string `json:"text" example:"frame=  120 fps= 30 q=23.0 size=    512kB" doc:"Output line"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Time the line was read"`
}

// Type returns the event type identifier for JobLogLineEvent.
func (e JobLogLineEvent) Type() uint32 { return TypeJobLogLine }

// JobEndedEvent is the single terminal notification for a job.
type JobEndedEvent struct {
	SessionID string `json:"session_id" doc:"Session that owns the job"`
	JobID     string `json:"job_id" doc:"Unique id of this launch"`
	State     string `json:"state" example:"completed" doc:"Terminal state: completed, failed or cancelled"`
	ExitCode  int    `json:"exit_code" example:"0" doc:"Process exit code, -1 when not applicable"`
	Error     string `json:"error,omitempty" doc:"Failure description"`
	StartedAt string `json:"started_at,omitempty" doc:"Process start time"`
	EndedAt   string `json:"ended_at" doc:"Time the job reached its terminal state"`
}

// Type returns the event type identifier for JobEndedEvent.
func (e JobEndedEvent) Type() uint32 { return TypeJobEnded }

// AutoStartDecisionEvent records the outcome of an auto-start check.
type AutoStartDecisionEvent struct {
	SessionID string `json:"session_id" doc:"Session checked"`
	Outcome   string `json:"outcome" example:"launched" doc:"launched, skipped_missing_params, skipped_already_fired or failed"`
	Timestamp string `json:"timestamp" doc:"Decision time"`
}

// Type returns the event type identifier for AutoStartDecisionEvent.
func (e AutoStartDecisionEvent) Type() uint32 { return TypeAutoStartDecision }

// LogEntryEvent represents an application log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
