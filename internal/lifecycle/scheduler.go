package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	SweepJob   = "group-sweep"
	CleanupJob = "group-cleanup"

	slowJobThreshold = 30 * time.Second
)

// Scheduler runs the sweep and cleanup on their cron schedules.
type Scheduler struct {
	log       *slog.Logger
	scheduler gocron.Scheduler
	manager   *Manager
	timeout   time.Duration
}

func NewScheduler(log *slog.Logger, m *Manager) (*Scheduler, error) {
	l := log.With("component", "scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&gocronLogAdapter{log: l}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		log:       l,
		scheduler: s,
		manager:   m,
		timeout:   10 * time.Minute,
	}, nil
}

// Schedule registers the sweep and cleanup jobs. An empty expression
// leaves that job unscheduled.
func (s *Scheduler) Schedule(sweepCron, cleanupCron string) error {
	if sweepCron != "" {
		err := s.addJob(SweepJob, sweepCron, func(ctx context.Context) error {
			_, err := s.manager.Sweep(ctx, s.manager.now())
			return err
		})
		if err != nil {
			return err
		}
	}

	if cleanupCron != "" {
		err := s.addJob(CleanupJob, cleanupCron, func(ctx context.Context) error {
			_, err := s.manager.Cleanup(ctx, s.manager.now())
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) addJob(name, cronExpr string, job func(context.Context) error) error {
	if cronExpr == "" {
		return errors.New("empty cron expression")
	}

	wrapped := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Error("scheduled job failed", "job_name", name, "error", err)
		}
		if d := time.Since(start); d > slowJobThreshold {
			s.log.Warn("slow scheduled job execution", "job_name", name, "duration_ms", d.Milliseconds())
		}
	}

	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	attrs := []any{"job_name", name, "cron", cronExpr}
	if next, err := j.NextRun(); err == nil {
		attrs = append(attrs, "next_run", next.Format(time.RFC3339))
	}
	s.log.Info("job scheduled", attrs...)
	return nil
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.log.Debug("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}

type gocronLogAdapter struct {
	log *slog.Logger
}

func (l *gocronLogAdapter) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l *gocronLogAdapter) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l *gocronLogAdapter) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *gocronLogAdapter) Error(msg string, args ...any) { l.log.Error(msg, args...) }
