package process

import "time"

// State is the lifecycle state of a supervised job.
type State string

// Job states.
const (
	StatePending   State = "pending"   // Created, not spawned
	StateRunning   State = "running"   // Spawned, output being drained
	StateCompleted State = "completed" // Exited (any code), output fully delivered
	StateFailed    State = "failed"    // Spawn or drain failure
	StateCancelled State = "cancelled" // Terminated on request
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Line is one line of combined process output.
type Line struct {
	Seq  uint64    `json:"seq"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Result is the terminal outcome of a job.
type Result struct {
	State     State
	ExitCode  int // diagnostic only; -1 when the process never ran or was signalled
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Info is a point-in-time snapshot of a job.
type Info struct {
	ID        string
	Command   string
	State     State
	PID       int
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  int
	LastError error
	LineCount uint64
}
