// Package scheduler triggers replenishment sweeps on a cron schedule: once
// at startup, once a day at a fixed local time, and on a short interval in
// between.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs one replenishment pass. Implemented by engine.Engine.
type Sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

// Scheduler wraps cron-based sweep jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	ctx     context.Context
}

// New creates a Scheduler whose daily times are read in loc. Overlapping
// runs are skipped rather than queued.
func New(loc *time.Location, sweeper Sweeper) *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		sweeper: sweeper,
		ctx:     context.Background(),
	}
}

// ScheduleDaily registers a daily sweep at hour:minute.
func (s *Scheduler) ScheduleDaily(hour, minute int) (cron.EntryID, error) {
	spec, err := dailySpec(hour, minute)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, func() { s.sweep("daily") })
}

// ScheduleInterval registers a sweep every interval, rounded down to whole
// seconds.
func (s *Scheduler) ScheduleInterval(interval time.Duration) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	seconds := max(int(interval.Seconds()), 1)
	return s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), func() { s.sweep("interval") })
}

// Entries returns the registered entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Run sweeps once, starts the cron loop and blocks until ctx is cancelled.
// Jobs in flight are awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.sweep("startup")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) sweep(trigger string) {
	created, err := s.sweeper.Sweep(s.ctx)
	if err != nil {
		slog.Error("sweep failed", "trigger", trigger, "created", len(created), "error", err)
		return
	}
	slog.Info("sweep finished", "trigger", trigger, "created", len(created))
}

func dailySpec(hour, minute int) (string, error) {
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour %d", hour)
	}
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute %d", minute)
	}
	// second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
