package fetcher

import (
	"context"

	"github.com/karpovdv/folio/internal/platform/monitor"
)

// SnapshotJob persists a statistics snapshot on the scheduler cadence,
// independent of cycle boundaries
type SnapshotJob struct {
	svc *Service
}

// NewSnapshotJob creates the periodic snapshot job
func NewSnapshotJob(svc *Service) *SnapshotJob {
	return &SnapshotJob{svc: svc}
}

// Name implements scheduler.Job
func (j *SnapshotJob) Name() string { return "stats-snapshot" }

// Run implements scheduler.Job
func (j *SnapshotJob) Run(ctx context.Context) error {
	return j.svc.PersistSnapshot(ctx)
}

// RetentionJob purges stored fetcher logs older than the retention
// window, once a day
type RetentionJob struct {
	recorder *monitor.Recorder
	days     int
}

// NewRetentionJob creates the daily log retention job
func NewRetentionJob(recorder *monitor.Recorder, days int) *RetentionJob {
	if days <= 0 {
		days = 30
	}
	return &RetentionJob{recorder: recorder, days: days}
}

// Name implements scheduler.Job
func (j *RetentionJob) Name() string { return "log-retention" }

// Run implements scheduler.Job
func (j *RetentionJob) Run(ctx context.Context) error {
	_, err := j.recorder.Purge(ctx, j.days)
	return err
}
