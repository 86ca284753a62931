package fetcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/platform/monitor"
	"github.com/karpovdv/folio/internal/platform/pricefeed"
	"github.com/karpovdv/folio/pkg/logger"
)

// successPolicy is logged at startup so operators know how cycles are
// classified: one asset refreshed without a fatal error is enough, and
// an empty refresh set counts as a successful no-op.
const successPolicy = "at_least_one_update"

// Service drives the periodic refresh of tracked assets and reacts to
// transaction notifications. One instance runs per process.
type Service struct {
	assets    Catalog
	source    pricefeed.Source
	limiter   *pricefeed.RateLimiter
	backfills Backfiller
	revaluer  Revaluer
	events    EventStore
	stats     *monitor.Stats
	recorder  *monitor.Recorder
	snapshots monitor.SnapshotStore
	cfg       *Config
	log       *logger.Logger
}

// NewService creates a new fetcher service
func NewService(
	cfg *Config,
	assets Catalog,
	source pricefeed.Source,
	limiter *pricefeed.RateLimiter,
	backfills Backfiller,
	revaluer Revaluer,
	events EventStore,
	stats *monitor.Stats,
	recorder *monitor.Recorder,
	snapshots monitor.SnapshotStore,
	log *logger.Logger,
) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	_ = cfg.Validate()

	return &Service{
		assets:    assets,
		source:    source,
		limiter:   limiter,
		backfills: backfills,
		revaluer:  revaluer,
		events:    events,
		stats:     stats,
		recorder:  recorder,
		snapshots: snapshots,
		cfg:       cfg,
		log:       log.WithField("service", "fetcher"),
	}
}

// Start runs startup bookkeeping before the loop begins: it announces
// the operating policy and writes the first statistics snapshot so the
// read surface has data from minute zero.
func (s *Service) Start(ctx context.Context) error {
	tracked, err := s.assets.TrackedCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count tracked assets: %w", err)
	}

	s.recorder.Info(ctx, "fetcher started", map[string]interface{}{
		"assets_tracked":  tracked,
		"update_interval": s.cfg.UpdateInterval.String(),
		"success_policy":  successPolicy,
	})
	return s.PersistSnapshot(ctx)
}

// Run processes refresh cycles until the context ends. The first cycle
// starts immediately; the ticker then keeps start-to-start cadence, and
// a cycle that overruns the interval rolls straight into the next one.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("refresh loop starting",
		"update_interval", s.cfg.UpdateInterval.String(),
		"success_policy", successPolicy)

	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.finish()
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// finish writes the final snapshot on the way out, detached from the
// cancelled loop context but bounded so shutdown cannot hang on it
func (s *Service) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.PersistSnapshot(ctx); err != nil {
		s.log.WithError(err).Error("failed to persist final statistics snapshot")
	}
	s.log.Info("refresh loop stopped")
}

// CycleReport summarizes one refresh cycle
type CycleReport struct {
	CycleID uuid.UUID
	Tracked int
	Updated int
	Failed  int
	Success bool
}

// RunCycle executes one refresh cycle: load the refresh set, fetch and
// store the current price per asset, classify the cycle, and trigger
// portfolio revaluation when it succeeded. Single-asset failures never
// abort the cycle; a panic is contained to the cycle itself.
func (s *Service) RunCycle(ctx context.Context) (report CycleReport) {
	cycleID := s.stats.BeginCycle()
	ctx = context.WithValue(ctx, logger.CycleIDKey, cycleID.String())
	started := time.Now()
	report.CycleID = cycleID

	defer func() {
		if rec := recover(); rec != nil {
			s.recorder.Critical(ctx, "refresh cycle panicked", map[string]interface{}{
				"cycle_id": cycleID.String(),
				"panic":    fmt.Sprintf("%v", rec),
				"stack":    string(debug.Stack()),
			})
			s.stats.EndCycle(cycleID, false, time.Since(started))
			report.Success = false
		}
	}()

	var tracked []asset.TrackedAsset
	err := s.retryOnce(ctx, func(ctx context.Context) error {
		var rerr error
		tracked, rerr = s.assets.RefreshSet(ctx)
		return rerr
	})
	if err != nil {
		s.recorder.Error(ctx, "failed to load refresh set", map[string]interface{}{
			"cycle_id": cycleID.String(),
			"reason":   err.Error(),
		})
		s.stats.EndCycle(cycleID, false, time.Since(started))
		return report
	}
	report.Tracked = len(tracked)

	s.recorder.Info(ctx, "refresh cycle started", map[string]interface{}{
		"cycle_id": cycleID.String(),
		"assets":   len(tracked),
	})

	throttleStreak := 0
	for i := range tracked {
		if ctx.Err() != nil {
			break
		}

		outcome := s.refreshAsset(ctx, tracked[i])
		switch {
		case outcome.updated:
			report.Updated++
			throttleStreak = 0
		case outcome.throttled:
			report.Failed++
			throttleStreak++
			_ = s.limiter.ReportThrottled(ctx, throttleStreak)
		default:
			report.Failed++
			throttleStreak = 0
		}
	}

	report.Success = report.Updated > 0 || report.Tracked == 0
	duration := time.Since(started)
	s.stats.EndCycle(cycleID, report.Success, duration)

	s.recorder.Info(ctx, "refresh cycle completed", map[string]interface{}{
		"cycle_id":    cycleID.String(),
		"assets":      report.Tracked,
		"updated":     report.Updated,
		"failed":      report.Failed,
		"success":     report.Success,
		"duration_ms": duration.Milliseconds(),
	})

	if report.Success {
		if ctx.Err() != nil {
			s.recorder.Warning(ctx, "portfolio revaluation skipped during shutdown", map[string]interface{}{
				"cycle_id": cycleID.String(),
			})
		} else {
			s.revalue(ctx)
		}
	}

	// every completed cycle lands a snapshot; shutdown defers to the
	// final one written by finish
	if ctx.Err() == nil {
		if err := s.PersistSnapshot(ctx); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("failed to persist statistics snapshot")
		}
	}
	return report
}

// assetOutcome is the result of a single-asset refresh attempt
type assetOutcome struct {
	updated   bool
	throttled bool
}

// refreshAsset fetches and stores the current price for one tracked
// asset. Every attempt lands exactly one audit row, success or not;
// attempts interrupted by shutdown land none.
func (s *Service) refreshAsset(ctx context.Context, ta asset.TrackedAsset) assetOutcome {
	log := s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"asset_id": ta.AssetID,
		"symbol":   ta.Symbol,
	})

	if err := s.limiter.Acquire(ctx); err != nil {
		return assetOutcome{}
	}

	started := time.Now()
	point, err := s.source.FetchCurrent(ctx, ta.Symbol)
	elapsed := time.Since(started)
	now := time.Now()

	if err != nil {
		if ctx.Err() != nil {
			return assetOutcome{}
		}
		s.auditFailure(ctx, ta.AssetID, now, err, elapsed)

		kind, _ := pricefeed.KindOf(err)
		s.recorder.Warning(ctx, "asset refresh failed", map[string]interface{}{
			"asset_id": ta.AssetID,
			"symbol":   ta.Symbol,
			"kind":     kind.String(),
			"reason":   err.Error(),
		})
		return assetOutcome{throttled: errors.Is(err, pricefeed.ErrThrottled)}
	}

	inserted, skipped, err := s.assets.StorePrices(ctx, ta.AssetID, []asset.PricePoint{*point})
	if err != nil {
		if ctx.Err() != nil {
			return assetOutcome{}
		}
		s.auditFailure(ctx, ta.AssetID, now, err, elapsed)
		s.recorder.Error(ctx, "failed to store refreshed price", map[string]interface{}{
			"asset_id": ta.AssetID,
			"symbol":   ta.Symbol,
			"reason":   err.Error(),
		})
		return assetOutcome{}
	}

	rec := &asset.UpdateRecord{
		AssetID:    ta.AssetID,
		Time:       now,
		Price:      point.Close,
		Success:    true,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := s.retryOnce(ctx, func(ctx context.Context) error {
		return s.assets.RecordUpdate(ctx, rec)
	}); err != nil {
		log.WithError(err).Error("failed to record price update")
	}

	if err := s.retryOnce(ctx, func(ctx context.Context) error {
		return s.assets.MarkRefreshed(ctx, ta.AssetID, now)
	}); err != nil {
		log.WithError(err).Error("failed to stamp last refresh")
	}

	s.assets.CachePrice(ctx, ta.Symbol, point.Close, point.Source)

	log.WithDuration(elapsed).Debug("asset refreshed", "inserted", inserted, "skipped", skipped)
	return assetOutcome{updated: true}
}

// auditFailure records a failed refresh attempt. The audit trail must
// stay complete, so the write gets the standard retry and a loud log
// line when it still fails.
func (s *Service) auditFailure(ctx context.Context, assetID int64, at time.Time, cause error, elapsed time.Duration) {
	msg := cause.Error()
	rec := &asset.UpdateRecord{
		AssetID:    assetID,
		Time:       at,
		Success:    false,
		ErrMessage: &msg,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := s.retryOnce(ctx, func(ctx context.Context) error {
		return s.assets.RecordUpdate(ctx, rec)
	}); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("failed to record price update", "asset_id", assetID)
	}
}

// revalue triggers exactly one portfolio revaluation pass. Failures
// are recorded, never propagated: stored prices are already durable
// and the next successful cycle revalues again.
func (s *Service) revalue(ctx context.Context) {
	updated, failed, err := s.revaluer.RecalculateAll(ctx)
	if err != nil {
		s.recorder.Error(ctx, "portfolio revaluation failed", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	fields := map[string]interface{}{
		"portfolios_updated": updated,
		"portfolios_failed":  failed,
	}
	if failed > 0 {
		s.recorder.Warning(ctx, "portfolio revaluation completed with failures", fields)
		return
	}
	s.recorder.Info(ctx, "portfolio revaluation completed", fields)
}

// PersistSnapshot writes one statistics row built from the in-memory
// counters and the current tracked count
func (s *Service) PersistSnapshot(ctx context.Context) error {
	var tracked int
	err := s.retryOnce(ctx, func(ctx context.Context) error {
		var terr error
		tracked, terr = s.assets.TrackedCount(ctx)
		return terr
	})
	if err != nil {
		return fmt.Errorf("failed to count tracked assets: %w", err)
	}

	snap := s.stats.Snapshot(tracked)
	if err := s.retryOnce(ctx, func(ctx context.Context) error {
		return s.snapshots.Insert(ctx, &snap)
	}); err != nil {
		return fmt.Errorf("failed to persist statistics snapshot: %w", err)
	}
	return nil
}

// retryOnce runs op and retries exactly once after a short delay when
// the first try fails. Database blips during a cycle get one second
// chance; persistent failures surface to the caller.
func (s *Service) retryOnce(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(s.cfg.RetryDelay):
	}
	return op(ctx)
}
