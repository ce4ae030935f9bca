package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/loopcast/internal/logging"
)

const (
	defaultGracefulTimeout = 5 * time.Second
	defaultKillTimeout     = 5 * time.Second
	defaultMaxLines        = 20
	defaultMaxLineSize     = 1 << 20
)

// Command is the program a job runs.
type Command struct {
	Program string
	Args    []string
	Display string // redacted rendering for logs; Program and Args are joined when empty
}

// String returns the display form of the command.
func (c Command) String() string {
	if c.Display != "" {
		return c.Display
	}
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg, gstreamer, etc.)
type LogParser func(line string) (level, msg string)

// StateChangeCallback is called after every state transition of a job.
type StateChangeCallback func(id string, oldState, newState State, err error)

// Option configures a Job.
type Option func(*Job)

// WithTimeouts sets how long to wait after SIGINT before SIGKILL, and after
// SIGKILL before giving up on the output stream.
func WithTimeouts(graceful, kill time.Duration) Option {
	return func(j *Job) {
		if graceful > 0 {
			j.gracefulTimeout = graceful
		}
		if kill > 0 {
			j.killTimeout = kill
		}
	}
}

// WithMaxLines sets how many recent output lines the job retains.
func WithMaxLines(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.maxLines = n
		}
	}
}

// WithLogParser routes process output to logger, leveled by parser.
func WithLogParser(logger logging.Logger, parser LogParser) Option {
	return func(j *Job) {
		j.outputLogger = logger
		j.logParser = parser
	}
}

// WithStateChange registers a state transition callback. Callbacks from
// repeated options all run, in registration order.
func WithStateChange(cb StateChangeCallback) Option {
	return func(j *Job) {
		if cb != nil {
			j.onStateChange = append(j.onStateChange, cb)
		}
	}
}

// Job supervises one run of an external process. A Job is single-use:
// it moves Pending -> Running -> {Completed, Failed, Cancelled} exactly once.
type Job struct {
	id              string
	command         Command
	logger          logging.Logger
	outputLogger    logging.Logger // nil = use logger
	logParser       LogParser      // nil = everything at info
	onStateChange   []StateChangeCallback
	gracefulTimeout time.Duration
	killTimeout     time.Duration
	maxLines        int
	maxLineSize     int
	lines           *logging.RingBuffer[Line]

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	sink      Sink
	seq       uint64
	startedAt time.Time
	endedAt   time.Time
	exitCode  int
	lastErr   error

	// deliverMu serializes sink delivery with cancellation so that no data
	// line reaches the sink once Cancel has returned.
	deliverMu  sync.Mutex
	suppressed bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJob creates a pending job. Nothing is spawned until Start.
func NewJob(id string, command Command, logger logging.Logger, opts ...Option) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Job{
		id:              id,
		command:         command,
		logger:          logger,
		gracefulTimeout: defaultGracefulTimeout,
		killTimeout:     defaultKillTimeout,
		maxLines:        defaultMaxLines,
		maxLineSize:     defaultMaxLineSize,
		state:           StatePending,
		sink:            SinkFuncs{},
		exitCode:        -1,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.lines = logging.NewRingBuffer[Line](j.maxLines)
	return j
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// Command returns the command the job runs.
func (j *Job) Command() Command {
	return j.command
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed after the terminal notification has been delivered.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Lines returns the most recent output lines, oldest first.
func (j *Job) Lines() []Line {
	return j.lines.ReadAll()
}

// Info returns a snapshot of the job.
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := Info{
		ID:        j.id,
		Command:   j.command.String(),
		State:     j.state,
		StartedAt: j.startedAt,
		EndedAt:   j.endedAt,
		ExitCode:  j.exitCode,
		LastError: j.lastErr,
		LineCount: j.seq,
	}
	if j.cmd != nil && j.cmd.Process != nil {
		info.PID = j.cmd.Process.Pid
	}
	return info
}

// Result returns the terminal outcome. Only meaningful once Done is closed.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resultLocked()
}

// Start spawns the process and returns immediately; output is drained on a
// background goroutine and delivered to sink. Cancelling ctx cancels the job.
//
// If the program cannot be started the job becomes Failed, the sink receives
// one failure line and the terminal notification, and a *SpawnError is returned.
func (j *Job) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		sink = SinkFuncs{}
	}

	j.mu.Lock()
	if j.state != StatePending {
		j.mu.Unlock()
		return ErrAlreadyStarted
	}
	j.sink = sink

	cmd, output, err := j.spawn()
	if err != nil {
		spawnErr := &SpawnError{Program: j.command.Program, Err: err}
		line := j.appendLocked(spawnErr.Error())
		old, result := j.settleLocked(StateFailed, -1, spawnErr)
		j.mu.Unlock()

		j.logger.Error("Failed to start process", "id", j.id, "error", err, "command", j.command.String())
		sink.OnLine(line)
		j.publishEnd(old, result)
		return spawnErr
	}

	j.cmd = cmd
	j.startedAt = time.Now()
	j.state = StateRunning
	j.mu.Unlock()

	j.logger.Info("Process started", "id", j.id, "pid", cmd.Process.Pid, "command", j.command.String())
	j.notifyStateChange(StatePending, StateRunning, nil)

	go j.supervise(ctx, cmd, output)
	return nil
}

// Cancel requests termination. Once Cancel returns no further data lines are
// delivered; the terminal notification still follows. A pending job is
// cancelled immediately. Cancelling a finished job is a no-op.
func (j *Job) Cancel() {
	j.deliverMu.Lock()
	j.suppressed = true
	j.deliverMu.Unlock()

	j.mu.Lock()
	switch {
	case j.state.Terminal():
		j.mu.Unlock()
		return
	case j.state == StatePending:
		old, result := j.settleLocked(StateCancelled, -1, nil)
		j.mu.Unlock()
		j.publishEnd(old, result)
		return
	}
	j.mu.Unlock()

	j.logger.Info("Cancelling process", "id", j.id)
	j.stopOnce.Do(func() { close(j.stop) })
}

// Wait blocks until the job is terminal or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop cancels the job and waits for it to finish.
func (j *Job) Stop(ctx context.Context) (Result, error) {
	j.Cancel()
	return j.Wait(ctx)
}

// spawn starts the process with stdout and stderr sharing one pipe, so lines
// keep the order in which the process wrote them.
func (j *Job) spawn() (*exec.Cmd, *os.File, error) {
	if j.command.Program == "" {
		return nil, nil, errors.New("empty command")
	}

	output, writer, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(j.command.Program, j.command.Args...)
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		output.Close()
		writer.Close()
		return nil, nil, err
	}

	// The child holds its own copy of the write end
	writer.Close()
	return cmd, output, nil
}

// supervise drains output, reacts to cancellation, reaps the process and
// settles the terminal state.
func (j *Job) supervise(ctx context.Context, cmd *exec.Cmd, output *os.File) {
	drained := make(chan error, 1)
	go func() {
		drained <- j.drain(output)
	}()

	var drainErr error
	cancelled := false

	select {
	case drainErr = <-drained:
	case <-ctx.Done():
		j.logger.Info("Context cancelled, stopping process", "id", j.id)
		j.Cancel()
		cancelled = true
		j.terminate(cmd, output, drained)
	case <-j.stop:
		cancelled = true
		j.terminate(cmd, output, drained)
	}
	output.Close()

	if drainErr != nil {
		drainErr = &DrainError{Err: drainErr}
		j.logger.Error("Output drain failed, killing process", "id", j.id, "error", drainErr)
		j.report(drainErr.Error())
		j.signalGroup(cmd, syscall.SIGKILL)
	}

	waitErr := cmd.Wait()
	exitCode := exitCodeFromError(waitErr)

	state := StateCompleted
	var err error
	switch {
	case cancelled:
		state = StateCancelled
	case drainErr != nil:
		state = StateFailed
		err = drainErr
	case exitCode != 0:
		// Exit codes are diagnostic only
		j.logger.Warn("Process exited with non-zero code", "id", j.id, "exit_code", exitCode)
	}

	j.mu.Lock()
	old, result := j.settleLocked(state, exitCode, err)
	j.mu.Unlock()
	j.publishEnd(old, result)
}

// terminate sends SIGINT to the process group, escalating to SIGKILL after
// the graceful timeout. It returns once the output stream is exhausted.
func (j *Job) terminate(cmd *exec.Cmd, output *os.File, drained <-chan error) {
	j.signalGroup(cmd, syscall.SIGINT)

	select {
	case <-drained:
		return
	case <-time.After(j.gracefulTimeout):
	}

	j.logger.Warn("Graceful shutdown timeout, forcing kill", "id", j.id, "timeout", j.gracefulTimeout)
	j.signalGroup(cmd, syscall.SIGKILL)

	select {
	case <-drained:
		return
	case <-time.After(j.killTimeout):
	}

	// A stray descendant still holds the pipe open
	j.logger.Error("Process output still open after kill, closing", "id", j.id)
	output.Close()
	<-drained
}

// signalGroup signals the whole process group, falling back to the leader.
func (j *Job) signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	j.logger.Debug("Signalling process group", "id", j.id, "pid", pid, "signal", sig.String())

	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return
	}
	j.logger.Warn("Failed to signal process group", "pid", pid, "signal", sig.String(), "error", err)
	if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		j.logger.Error("Failed to signal process", "pid", pid, "signal", sig.String(), "error", err)
	}
}

// drain reads combined output line by line until EOF.
func (j *Job) drain(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(4096, j.maxLineSize)), j.maxLineSize)
	scanner.Split(scanOutputLines)

	for scanner.Scan() {
		text := scanner.Text()
		if len(text) == 0 {
			continue
		}
		j.deliver(text)
	}
	return scanner.Err()
}

// deliver records and forwards one data line unless the job was cancelled.
func (j *Job) deliver(text string) {
	j.deliverMu.Lock()
	defer j.deliverMu.Unlock()

	if j.suppressed {
		return
	}

	j.mu.Lock()
	line := j.appendLocked(text)
	sink := j.sink
	j.mu.Unlock()

	j.logOutput(text)
	sink.OnLine(line)
}

// report forwards a failure line regardless of cancellation.
func (j *Job) report(text string) {
	j.deliverMu.Lock()
	defer j.deliverMu.Unlock()

	j.mu.Lock()
	line := j.appendLocked(text)
	sink := j.sink
	j.mu.Unlock()

	sink.OnLine(line)
}

// appendLocked assigns the next sequence number and buffers the line.
// Must hold j.mu.
func (j *Job) appendLocked(text string) Line {
	j.seq++
	line := Line{Seq: j.seq, Text: text, Time: time.Now()}
	if !j.state.Terminal() {
		j.lines.Write(line)
	}
	return line
}

// settleLocked moves the job into a terminal state. Must hold j.mu.
func (j *Job) settleLocked(state State, exitCode int, err error) (State, Result) {
	old := j.state
	j.state = state
	j.exitCode = exitCode
	j.lastErr = err
	j.endedAt = time.Now()
	return old, j.resultLocked()
}

func (j *Job) resultLocked() Result {
	return Result{
		State:     j.state,
		ExitCode:  j.exitCode,
		Err:       j.lastErr,
		StartedAt: j.startedAt,
		EndedAt:   j.endedAt,
	}
}

// publishEnd emits the terminal notification exactly once.
func (j *Job) publishEnd(old State, result Result) {
	j.notifyStateChange(old, result.State, result.Err)
	j.logger.Info("Process finished", "id", j.id, "state", string(result.State), "exit_code", result.ExitCode)

	j.mu.Lock()
	sink := j.sink
	j.mu.Unlock()

	sink.OnEnd(result)
	close(j.done)
}

func (j *Job) notifyStateChange(oldState, newState State, err error) {
	for _, cb := range j.onStateChange {
		cb(j.id, oldState, newState, err)
	}
}

// logOutput logs a process output line at the level the parser reports.
func (j *Job) logOutput(text string) {
	logger := j.outputLogger
	if logger == nil {
		logger = j.logger
	}

	level, msg := "info", text
	if j.logParser != nil {
		level, msg = j.logParser(text)
	}

	switch level {
	case "panic", "fatal", "error":
		logger.Error(msg, "id", j.id)
	case "warning":
		logger.Warn(msg, "id", j.id)
	case "verbose", "debug", "trace":
		logger.Debug(msg, "id", j.id)
	default:
		logger.Info(msg, "id", j.id)
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError (-1 if signalled), or 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// scanOutputLines splits on '\n' and on '\r'. ffmpeg redraws its progress
// line with carriage returns only.
func scanOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
