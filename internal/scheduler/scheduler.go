package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyStarted is returned when Start is called outside the idle state.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Job performs one fetch for its stream and returns the commit that applies the
// outcome. The scheduler runs the commit only while it is still running, so a
// fetch that completes after Stop never mutates state. A nil commit is allowed.
type Job func(ctx context.Context) (commit func())

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Job      Job
}

// State is the scheduler lifecycle: idle, running, stopped.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
}

// Scheduler drives independent periodic tasks with joint cancellation.
type Scheduler struct {
	opts   Options
	tasks  []Task
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	triggers map[string]chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Scheduler. Task names must be unique and intervals positive.
func New(opts Options, logger zerolog.Logger, tasks ...Task) *Scheduler {
	triggers := make(map[string]chan struct{}, len(tasks))
	for _, t := range tasks {
		if t.Interval <= 0 {
			panic("scheduler interval must be positive: " + t.Name)
		}
		if t.Job == nil {
			panic("scheduler job must not be nil: " + t.Name)
		}
		if _, dup := triggers[t.Name]; dup {
			panic("duplicate scheduler task: " + t.Name)
		}
		triggers[t.Name] = make(chan struct{}, 1)
	}
	return &Scheduler{
		opts:     opts,
		tasks:    tasks,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		triggers: triggers,
	}
}

// Start runs every task once immediately and then on its own interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, t, s.triggers[t.Name])
	}

	s.logger.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
	return nil
}

// Stop cancels every timer and pending tick. Fetches already in flight are left
// to finish but their results are discarded. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return
	}
	prev := s.state
	s.state = StateStopped
	if s.cancel != nil {
		s.cancel()
	}
	if prev == StateRunning {
		s.logger.Info().Msg("scheduler stopped")
	}
}

// Wait blocks until every task loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run starts the scheduler and blocks until ctx is cancelled, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	s.Wait()
	return ctx.Err()
}

// Trigger asks the named task to run as soon as its current fetch, if any,
// completes. Requests coalesce. It reports whether the task exists and the
// scheduler is running.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.triggers[name]
	if !ok || s.state != StateRunning {
		return false
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tasks lists the configured task names.
func (s *Scheduler) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		names = append(names, t.Name)
	}
	return names
}

// loop runs one task. Fetches execute synchronously inside the loop, so at most
// one is in flight per task and a slow fetch delays later ticks instead of
// stacking them.
func (s *Scheduler) loop(ctx context.Context, t Task, trigger <-chan struct{}) {
	defer s.wg.Done()
	logger := s.logger.With().Str("task", t.Name).Dur("interval", t.Interval).Logger()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.execute(ctx, t, logger)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
			logger.Debug().Msg("manual refresh requested")
		}
		// a tick and Stop may be ready together; cancellation wins.
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, t, logger)
	}
}

func (s *Scheduler) execute(ctx context.Context, t Task, logger zerolog.Logger) {
	started := time.Now()
	commit := t.Job(context.WithoutCancel(ctx))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		logger.Debug().Dur("took", time.Since(started)).Msg("discarding result completed after stop")
		return
	}
	if commit != nil {
		commit()
	}
	logger.Debug().Dur("took", time.Since(started)).Msg("tick applied")
}
