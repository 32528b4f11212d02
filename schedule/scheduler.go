// Package schedule runs cron jobs as a lifecycle component of an application
// context.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/appcontext/internal/logging"
)

// Phase places the scheduler after every regular lifecycle component, so it
// starts last and stops first
const Phase = math.MaxInt32 / 2

// Scheduler errors
var (
	ErrInvalidSchedule = errors.New("invalid cron schedule")
	ErrDuplicateJob    = errors.New("job already scheduled")
	ErrJobNotFound     = errors.New("job not found")
	ErrStopTimeout     = errors.New("scheduler shutdown timed out")
)

// JobFunc defines a function that can be executed as a job
type JobFunc func(ctx context.Context) error

// Job describes one recurring job contributed by a component
type Job struct {
	Name string
	Spec string
	Run  JobFunc
}

// Scheduled is implemented by components contributing jobs
type Scheduled interface {
	Schedules() []Job
}

// Status represents the status of a job execution
type Status string

const (
	// StatusRunning indicates a job is currently executing
	StatusRunning Status = "running"
	// StatusCompleted indicates a job has completed successfully
	StatusCompleted Status = "completed"
	// StatusFailed indicates a job has failed
	StatusFailed Status = "failed"
)

// Execution records details about a single execution of a job
type Execution struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// Entry describes a scheduled job
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

// Logger is the structured key/value logger used by the scheduler
type Logger = logging.Logger

type job struct {
	spec  string
	entry cron.EntryID
	run   JobFunc
}

// Scheduler handles scheduling and executing jobs
type Scheduler struct {
	logger Logger
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	last    map[string]Execution
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// Option defines a function that can configure a scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a stopped scheduler
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logging.Nop{},
		cron:   cron.New(),
		jobs:   make(map[string]*job),
		last:   make(map[string]Execution),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules fn under name using a standard five field cron spec or a
// descriptor such as "@every 1m"
func (s *Scheduler) Add(spec, name string, fn JobFunc) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %w", ErrInvalidSchedule, name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(name, fn) }))
	s.jobs[name] = &job{spec: spec, entry: id, run: fn}
	s.logger.Debug("Scheduled job", "job", name, "spec", spec)
	return nil
}

// Remove unschedules the job registered under name
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, name)
	return nil
}

// RunNow executes the job registered under name on the calling goroutine
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, exists := s.jobs[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(name, j.run)
}

// Entries lists the scheduled jobs sorted by name
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.jobs))
	for _, name := range slices.Sorted(maps.Keys(s.jobs)) {
		j := s.jobs[name]
		entries = append(entries, Entry{Name: name, Spec: j.spec, Next: s.cron.Entry(j.entry).Next})
	}
	return entries
}

// LastExecution returns the most recent execution of the job
func (s *Scheduler) LastExecution(name string) (Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.last[name]
	return e, ok
}

func (s *Scheduler) execute(name string, fn JobFunc) error {
	s.mu.Lock()
	ctx := s.ctx
	execution := Execution{
		ID:        uuid.NewString(),
		Job:       name,
		StartTime: time.Now(),
		Status:    StatusRunning,
	}
	s.last[name] = execution
	s.mu.Unlock()

	s.logger.Debug("Executing job", "job", name, "execution", execution.ID)
	err := fn(ctx)

	execution.EndTime = time.Now()
	if err != nil {
		execution.Status = StatusFailed
		execution.Error = err.Error()
		s.logger.Error("Job execution failed", "job", name, "error", err)
	} else {
		execution.Status = StatusCompleted
	}

	s.mu.Lock()
	s.last[name] = execution
	s.mu.Unlock()
	return err
}

// Start starts the cron loop. Jobs receive a context cancelled on Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.logger.Info("Starting scheduler", "jobs", len(s.jobs))
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the cron loop and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	cronCtx := s.cron.Stop()
	if cancel != nil {
		cancel()
	}

	select {
	case <-cronCtx.Done():
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler shutdown timed out")
		return ErrStopTimeout
	}
}

// IsRunning reports whether the cron loop is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Phase implements the lifecycle phase contract
func (s *Scheduler) Phase() int {
	return Phase
}
