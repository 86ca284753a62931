package monitor

import (
	"context"
	"time"

	"github.com/karpovdv/folio/pkg/logger"
)

// Recorder writes operational events to the process log and the
// database log store in one call. The slog line goes out first so an
// unreachable database never silences operators; the store write gets
// one retry before the entry is dropped.
type Recorder struct {
	store      LogStore
	log        *logger.Logger
	retryDelay time.Duration
}

// NewRecorder creates a recorder over the given store
func NewRecorder(store LogStore, log *logger.Logger) *Recorder {
	return &Recorder{
		store:      store,
		log:        log,
		retryDelay: time.Second,
	}
}

// Debug records a debug-level event
func (r *Recorder) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	r.record(ctx, LevelDebug, msg, fields)
}

// Info records an info-level event
func (r *Recorder) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	r.record(ctx, LevelInfo, msg, fields)
}

// Warning records a warning-level event
func (r *Recorder) Warning(ctx context.Context, msg string, fields map[string]interface{}) {
	r.record(ctx, LevelWarning, msg, fields)
}

// Error records an error-level event
func (r *Recorder) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	r.record(ctx, LevelError, msg, fields)
}

// Critical records a critical-level event
func (r *Recorder) Critical(ctx context.Context, msg string, fields map[string]interface{}) {
	r.record(ctx, LevelCritical, msg, fields)
}

// Purge deletes stored entries older than the retention window and
// reports how many rows went away
func (r *Recorder) Purge(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.Info(ctx, "log retention purge completed", map[string]interface{}{
		"removed":        removed,
		"retention_days": retentionDays,
	})
	return removed, nil
}

func (r *Recorder) record(ctx context.Context, level Level, msg string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, "severity", string(level))
	for k, v := range fields {
		args = append(args, k, v)
	}
	r.log.Log(ctx, level.Slog(), msg, args...)

	if r.store == nil {
		return
	}

	entry := &Entry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Context: fields,
	}

	if err := r.store.Write(ctx, entry); err == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(r.retryDelay):
	}

	if err := r.store.Write(ctx, entry); err != nil {
		r.log.WithError(err).Error("failed to persist fetcher log entry", "message", msg)
	}
}
