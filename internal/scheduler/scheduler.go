package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/robfig/cron/v3"

	"github.com/karpovdv/folio/pkg/logger"
)

// Job represents a scheduled maintenance job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background maintenance jobs on cron schedules.
// Jobs run with a context that is cancelled when the scheduler stops;
// a panicking job is logged and never takes the process down.
type Scheduler struct {
	cron   *cron.Cron
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler
func New(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		log:    log.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop cancels the job context and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 */5 * * * *"  - every 5 minutes
//   - "@every 300s"    - every 300 seconds
//   - "@daily"         - once a day at midnight
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(s.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	s.log.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info("running job immediately", "job", job.Name())
	return job.Run(ctx)
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("job panicked",
				"job", job.Name(),
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
		}
	}()

	s.log.Debug("running job", "job", job.Name())

	if err := job.Run(ctx); err != nil {
		s.log.WithError(err).Error("job failed", "job", job.Name())
		return
	}

	s.log.Debug("job completed", "job", job.Name())
}
