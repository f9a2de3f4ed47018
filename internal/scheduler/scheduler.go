// Package scheduler runs the daily sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "prophetic/internal/log"
)

// Job is the work run on every tick.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with a single job.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	loc      *time.Location
	cron     *cron.Cron
	job      Job

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// cronLogger routes robfig/cron's own messages through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) { appLog.Debug("cron: "+msg, kv...) }

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// New validates spec (standard 5-field cron) and prepares the runner.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		spec:     spec,
		schedule: sched,
		loc:      loc,
		job:      job,
		ctx:      ctx,
		cancel:   cancel,
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.cron.Schedule(sched, cron.FuncJob(s.RunNow))
	return s, nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("sweep scheduler started", "spec", s.spec, "next", s.Next(time.Now()).Format(time.RFC3339))
}

// Stop halts the runner, cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	appLog.Info("sweep scheduler stopped")
}

// Next is the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// RunNow runs the job synchronously.
func (s *Scheduler) RunNow() {
	start := time.Now()
	err := s.job(s.ctx)

	s.mu.Lock()
	s.lastRun, s.lastErr = start, err
	s.mu.Unlock()

	if err != nil {
		appLog.Error("sweep failed", err, "elapsed", time.Since(start).String())
		return
	}
	appLog.Debug("sweep finished", "elapsed", time.Since(start).String())
}

// Status is a snapshot of the sweep schedule.
type Status struct {
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Status reports the schedule, the next tick and the last outcome.
func (s *Scheduler) Status() Status {
	st := Status{Spec: s.spec, Next: s.Next(time.Now())}
	at, err := s.LastRun()
	st.LastRun = at
	if err != nil {
		st.LastError = err.Error()
	}
	return st
}

// LastRun reports when the job last ran and how it ended.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
