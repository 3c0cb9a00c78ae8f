// Package reminder repeats the expiring-soon license check on a cron
// schedule while the application runs.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"licensecore/internal/infrastructure"
)

// Checker runs the expiring-soon check. It reports whether the license is
// still usable.
type Checker interface {
	CheckExpiringSoon(ctx context.Context) bool
}

// Scheduler runs the check on a cron schedule
type Scheduler struct {
	checker  Checker
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
}

// New creates a stopped scheduler. schedule is a standard five field cron
// expression or a descriptor such as @daily.
func New(checker Checker, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if checker == nil {
		panic("reminder: checker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", schedule, err)
	}

	logger = logger.With(slog.String("component", "reminder"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		checker:  checker,
		schedule: schedule,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:   logger,
	}, nil
}

// Start begins the schedule
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("reminder scheduler already running")
	}

	id, err := s.cron.AddFunc(s.schedule, s.run)
	if err != nil {
		return err
	}
	s.entry = id
	s.cron.Start()
	s.running = true

	s.logger.Info("reminder scheduler started",
		slog.String("schedule", s.schedule),
		slog.Time("next_run", s.cron.Entry(id).Next))
	return nil
}

// Stop halts the schedule. The returned context is done once a running
// check has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.cron.Remove(s.entry)
	s.logger.Info("stopping reminder scheduler")
	return s.cron.Stop()
}

// RunNow performs the check immediately
func (s *Scheduler) RunNow() bool {
	return s.check()
}

func (s *Scheduler) run() {
	s.check()
}

func (s *Scheduler) check() bool {
	ctx := infrastructure.EnsureTraceID(context.Background())
	ok := s.checker.CheckExpiringSoon(ctx)
	s.logger.InfoContext(ctx, "scheduled license check finished", slog.Bool("usable", ok))
	return ok
}

// cronLogger routes cron's own logging into slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
