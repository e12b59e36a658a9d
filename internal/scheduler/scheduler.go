// Package scheduler triggers ingestion cycles: once at start, then on a fixed
// interval, with at most one cycle running at a time.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outagebot/internal/ingest"
	logx "outagebot/pkg/logx"
)

const DefaultInterval = 30 * time.Minute

var ErrStopped = errors.New("scheduler stopped")

// Job runs one cycle.
type Job func(ctx context.Context) ingest.Report

type Config struct {
	Interval time.Duration
	Location *time.Location

	// OnCycle is called after every completed cycle.
	OnCycle func(ingest.Report)
}

type Scheduler struct {
	job Job
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	base    context.Context
	started bool
	stopped bool

	// busy is a single slot shared by the immediate run, interval ticks and
	// manual triggers. A run that cannot take it is skipped.
	busy chan struct{}
	wg   sync.WaitGroup

	// drained is closed once Stop has been called and the last cycle returned.
	drained chan struct{}
}

func New(cfg Config, job Job, log logx.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		job:  job,
		cfg:  cfg,
		log:  log.With(logx.String("comp", "scheduler")),
		busy:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
}

// Start runs the first cycle in the background and arms the interval timer.
// Cycles are not canceled when ctx is; use Stop for shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	s.base = context.WithoutCancel(ctx)

	cl := logx.CronLogger{L: s.log}
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s.entry = s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.tick))
	s.c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run("startup")
	}()
	s.log.Info("scheduler started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Scheduler) tick() { s.run("interval") }

// Trigger runs a cycle now, synchronously. ok=false means a cycle was
// already running (or the scheduler is stopped) and nothing was done.
func (s *Scheduler) Trigger() (ingest.Report, bool) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ingest.Report{}, false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	return s.run("manual")
}

func (s *Scheduler) run(reason string) (ingest.Report, bool) {
	select {
	case s.busy <- struct{}{}:
	default:
		s.log.Info("cycle skipped; previous still running", logx.String("reason", reason))
		return ingest.Report{}, false
	}
	defer func() { <-s.busy }()

	s.mu.Lock()
	ctx := s.base
	stopped := s.stopped
	onCycle := s.cfg.OnCycle
	s.mu.Unlock()
	if stopped || ctx == nil {
		return ingest.Report{}, false
	}

	s.log.Debug("cycle starting", logx.String("reason", reason))
	rep := s.job(ctx)
	if onCycle != nil {
		onCycle(rep)
	}
	return rep, true
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool { return len(s.busy) > 0 }

// Next returns the next scheduled tick, zero when not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Apply replaces the interval; the new timer starts counting from now.
func (s *Scheduler) Apply(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval == s.cfg.Interval {
		return
	}
	s.cfg.Interval = interval
	if s.c == nil || s.stopped {
		return
	}
	s.c.Remove(s.entry)
	s.entry = s.c.Schedule(cron.Every(interval), cron.FuncJob(s.tick))
	s.log.Info("interval changed", logx.Duration("interval", interval))
}

// Stop halts future runs and waits for an in-flight cycle to finish or ctx
// to expire. The in-flight cycle itself is never canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	c := s.c
	s.mu.Unlock()

	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		s.wg.Wait()
		close(s.drained)
	}()

	select {
	case <-s.drained:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; cycle still running")
		return ctx.Err()
	}
}

// Drained is closed after Stop once no cycle is running anymore.
func (s *Scheduler) Drained() <-chan struct{} { return s.drained }
