package process

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/loopcast/internal/logging"
)

// Pool holds at most one live job per slot id.
type Pool interface {
	// Start creates and starts a job in the slot. Fails with ErrSlotBusy until
	// the slot's current job has delivered its terminal notification. On spawn failure the failed job is
	// still recorded and returned along with the error. opts apply after the
	// pool's own options.
	Start(id string, command Command, sink Sink, opts ...Option) (*Job, error)

	// Cancel cancels the slot's job and waits for it to finish.
	Cancel(id string) error

	// Get returns the slot's most recent job.
	Get(id string) (*Job, bool)

	// List returns snapshots of all jobs ordered by id.
	List() []Info

	// StopAll cancels every live job and waits for all of them.
	StopAll()
}

type pool struct {
	opts   PoolOptions
	jobs   map[string]*Job
	mu     sync.RWMutex
	logger logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new job pool.
func NewPool(opts *PoolOptions) Pool {
	if opts == nil {
		opts = &PoolOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &pool{
		opts:   *opts,
		jobs:   make(map[string]*Job),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if p.opts.StopTimeout <= 0 {
		p.opts.StopTimeout = 10 * time.Second
	}
	return p
}

// Start starts a job in the slot.
func (p *pool) Start(id string, command Command, sink Sink, extra ...Option) (*Job, error) {
	p.mu.Lock()
	if existing, ok := p.jobs[id]; ok && !finished(existing) {
		p.mu.Unlock()
		return nil, fmt.Errorf("slot %s: %w", id, ErrSlotBusy)
	}
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool stopped: %w", context.Canceled)
	}

	opts := []Option{
		WithTimeouts(p.opts.GracefulTimeout, p.opts.KillTimeout),
		WithMaxLines(p.opts.MaxLines),
		WithStateChange(p.notifyStateChange),
	}
	if p.opts.ConfigureJob != nil {
		opts = append(opts, p.opts.ConfigureJob(id)...)
	}
	opts = append(opts, extra...)

	job := NewJob(id, command, p.logger, opts...)
	p.jobs[id] = job
	p.mu.Unlock()

	if err := job.Start(p.ctx, sink); err != nil {
		return job, err
	}
	return job, nil
}

// Cancel cancels the slot's job.
func (p *pool) Cancel(id string) error {
	p.mu.RLock()
	job, ok := p.jobs[id]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}

	p.logger.Info("Stopping job", "id", id)

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.StopTimeout)
	defer cancel()
	if _, err := job.Stop(ctx); err != nil {
		p.logger.Warn("Timeout waiting for job to stop", "id", id)
		return err
	}
	return nil
}

// Get returns the slot's most recent job.
func (p *pool) Get(id string) (*Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[id]
	return job, ok
}

// List returns snapshots of all jobs.
func (p *pool) List() []Info {
	p.mu.RLock()
	infos := make([]Info, 0, len(p.jobs))
	for _, job := range p.jobs {
		infos = append(infos, job.Info())
	}
	p.mu.RUnlock()

	sort.Slice(infos, func(i, k int) bool { return infos[i].ID < infos[k].ID })
	return infos
}

// StopAll cancels the pool context and waits for every live job.
func (p *pool) StopAll() {
	p.logger.Info("Stopping all jobs")

	p.mu.Lock()
	p.cancel()
	live := make([]*Job, 0, len(p.jobs))
	for _, job := range p.jobs {
		if !finished(job) {
			live = append(live, job)
		}
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.StopTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range live {
		g.Go(func() error {
			_, err := job.Stop(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("Some jobs did not stop in time", "error", err)
	}

	p.logger.Info("All jobs stopped")
}

func (p *pool) notifyStateChange(id string, oldState, newState State, err error) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(id, oldState, newState, err)
	}
}

// finished reports whether j has closed its done channel. A job is terminal
// slightly earlier, while its end notification is still being delivered.
func finished(j *Job) bool {
	select {
	case <-j.Done():
		return true
	default:
		return false
	}
}
