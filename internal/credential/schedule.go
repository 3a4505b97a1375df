package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

const pauseAttemptRetention = 5 * time.Minute

// ScheduleConfig sets how often the background jobs run. A zero interval disables a job.
type ScheduleConfig struct {
	ReconcileInterval time.Duration
	PurgeInterval     time.Duration
	CleanupInterval   time.Duration
	Clock             clockwork.Clock
}

// Scheduler runs reconciliation and cache maintenance outside request handling.
type Scheduler struct {
	ctx         context.Context
	coordinator *Coordinator
	scheduler   gocron.Scheduler
}

// NewScheduler creates a new scheduler. Jobs stop running when ctx is cancelled.
func NewScheduler(ctx context.Context, coordinator *Coordinator, cfg ScheduleConfig) (*Scheduler, error) {
	opts := []gocron.SchedulerOption{}
	if cfg.Clock != nil {
		opts = append(opts, gocron.WithClock(cfg.Clock))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}

	scheduler := &Scheduler{
		ctx:         ctx,
		coordinator: coordinator,
		scheduler:   s,
	}

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"reconcile", cfg.ReconcileInterval, scheduler.reconcile},
		{"purge verification cache", cfg.PurgeInterval, scheduler.purge},
		{"cleanup pause attempts", cfg.CleanupInterval, scheduler.cleanupAttempts},
	}
	for _, job := range jobs {
		if job.interval <= 0 {
			continue
		}
		_, err = s.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(job.task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}

// Start begins running the jobs.
func (s *Scheduler) Start() {
	slog.Info("starting credential scheduler", "jobs", len(s.scheduler.Jobs()))
	s.scheduler.Start()
}

// Stop halts the jobs and waits for running ones.
func (s *Scheduler) Stop() {
	slog.Info("stopping credential scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		slog.Error("error shutting down scheduler", "err", err)
	}
}

func (s *Scheduler) reconcile() {
	if s.ctx.Err() != nil {
		return
	}
	if !s.coordinator.hasLedger() {
		slog.Debug("no ledger configured, skipping reconciliation")
		return
	}
	if _, err := s.coordinator.Reconcile(s.ctx); err != nil {
		slog.Error("error reconciling with ledger", "err", err)
	}
}

func (s *Scheduler) purge() {
	s.coordinator.PurgeVerificationCache()
}

func (s *Scheduler) cleanupAttempts() {
	if s.coordinator.db == nil {
		return
	}
	if err := s.coordinator.db.CleanupOldPauseAttempts(pauseAttemptRetention); err != nil {
		slog.Error("error cleaning up pause attempts", "err", err)
	}
}
