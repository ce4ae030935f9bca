package process

import (
	"time"

	"github.com/smazurov/loopcast/internal/logging"
)

// Configurer returns extra options for the job created in a slot.
// Used for domain-specific setup (e.g., log parser).
type Configurer func(id string) []Option

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// OnStateChange is called when a job changes state (optional).
	OnStateChange StateChangeCallback

	// ConfigureJob adds per-job options before start (optional).
	ConfigureJob Configurer

	// GracefulTimeout is the SIGINT to SIGKILL delay. Zero uses the job default.
	GracefulTimeout time.Duration

	// KillTimeout bounds the wait after SIGKILL. Zero uses the job default.
	KillTimeout time.Duration

	// MaxLines is the per-job output buffer size. Zero uses the job default.
	MaxLines int

	// StopTimeout bounds how long Cancel waits for a job to finish. Default 10s.
	StopTimeout time.Duration

	// Logger for pool operations. If nil, uses slog.Default().
	Logger logging.Logger
}
