package accrual

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "0 0 * * *"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// RunFunc performs one triggered sweep.
type RunFunc func(ctx context.Context, now time.Time) error

// Scheduler triggers RunFunc on a cron schedule evaluated in a fixed time zone.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	run     RunFunc
	clock   Clock
	timeout time.Duration
	logger  *slog.Logger
}

func NewScheduler(spec string, loc *time.Location, run RunFunc, clock Clock, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = systemClock{}
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:    spec,
		run:     run,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
	}
}

// Start registers the job and starts the cron loop in its own goroutine.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Trigger); err != nil {
		return fmt.Errorf("schedule accrual %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("accrual scheduler started", "schedule", s.spec)
	return nil
}

// Trigger runs one sweep with the injected clock. Cron calls it; tests may call it directly.
func (s *Scheduler) Trigger() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.run(ctx, s.clock.Now()); err != nil {
		s.logger.Error("scheduled accrual failed", "error", err)
	}
}

// Stop stops the cron loop and waits for a running sweep or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next reports the next planned trigger time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
