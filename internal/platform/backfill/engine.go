package backfill

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/platform/monitor"
	"github.com/karpovdv/folio/internal/platform/pricefeed"
	"github.com/karpovdv/folio/pkg/logger"
)

// AssetCatalog is the slice of the asset service the engine needs
type AssetCatalog interface {
	GetAsset(ctx context.Context, id int64) (*asset.Asset, error)
	StorePrices(ctx context.Context, assetID int64, points []asset.PricePoint) (inserted, skipped int, err error)
	CachePrice(ctx context.Context, symbol string, price *big.Int, source string)
}

// Config controls engine behavior. The per-job retry ceiling lives on
// the queue rows themselves.
type Config struct {
	Workers      int           // concurrent claim loops, clamped to 1..4
	PollInterval time.Duration // idle wait between claim sweeps
	RetryBase    time.Duration // transient retry ladder base
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Workers:      1,
		PollInterval: 5 * time.Second,
		RetryBase:    DefaultRetryBase,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Workers > 4 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	return c
}

// Engine drains the backfill queue: claim, fetch, store, and apply the
// state machine to the outcome. Every state change is persisted before
// the worker moves on, so a crash at any point is recoverable from the
// queue table alone.
type Engine struct {
	queue    Queue
	assets   AssetCatalog
	source   pricefeed.Source
	limiter  *pricefeed.RateLimiter
	recorder *monitor.Recorder
	cfg      Config
	log      *logger.Logger
}

// NewEngine creates a backfill engine
func NewEngine(
	queue Queue,
	assets AssetCatalog,
	source pricefeed.Source,
	limiter *pricefeed.RateLimiter,
	recorder *monitor.Recorder,
	cfg Config,
	log *logger.Logger,
) *Engine {
	return &Engine{
		queue:    queue,
		assets:   assets,
		source:   source,
		limiter:  limiter,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// Enqueue queues a backfill window for an asset. An open job for the
// same asset is widened instead of duplicated.
func (e *Engine) Enqueue(ctx context.Context, assetID int64, start, end time.Time) (*Job, error) {
	if start.After(end) {
		return nil, ErrInvalidWindow
	}

	job, err := e.queue.Enqueue(ctx, assetID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue backfill for asset %d: %w", assetID, err)
	}

	e.recorder.Info(ctx, "backfill job queued", map[string]interface{}{
		"job_id":     job.ID,
		"asset_id":   job.AssetID,
		"start_date": job.StartDate.Format("2006-01-02"),
		"end_date":   job.EndDate.Format("2006-01-02"),
		"status":     string(job.Status),
	})
	return job, nil
}

// Resume returns crash leftovers to pending and logs the queue
// inventory. Called once at startup before Run.
func (e *Engine) Resume(ctx context.Context) error {
	reset, err := e.queue.ResetStuck(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset stuck backfill jobs: %w", err)
	}

	counts, err := e.queue.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to inventory backfill queue: %w", err)
	}

	e.recorder.Info(ctx, "backfill queue resumed", map[string]interface{}{
		"reclaimed":    reset,
		"pending":      counts[StatusPending],
		"rate_limited": counts[StatusRateLimited],
		"completed":    counts[StatusCompleted],
		"failed":       counts[StatusFailed],
	})
	return nil
}

// Run processes jobs until the context ends
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (e *Engine) runWorker(ctx context.Context, worker int) {
	log := e.log.WithField("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}

		_, err := e.RunOnce(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrNoJobs):
		case ctx.Err() != nil:
			return
		default:
			log.WithError(err).Error("backfill worker iteration failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes a single eligible job. Returns
// ErrNoJobs when the queue has nothing to do.
func (e *Engine) RunOnce(ctx context.Context) (*Job, error) {
	job, err := e.queue.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.process(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// process runs one claimed job to an outcome. Job-level failures are
// absorbed into the state machine; only infrastructure errors (failed
// persists, shutdown) surface to the caller. A context cancellation
// before the outcome is persisted leaves the row in_progress for the
// next startup's Resume to reclaim.
func (e *Engine) process(ctx context.Context, job *Job) error {
	a, err := e.assets.GetAsset(ctx, job.AssetID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := time.Now()
		if errors.Is(err, asset.ErrAssetNotFound) {
			_ = job.FailPermanently(now, "asset missing from catalog")
			e.recorder.Error(ctx, "backfill failed permanently", map[string]interface{}{
				"job_id":   job.ID,
				"asset_id": job.AssetID,
				"reason":   "asset missing from catalog",
			})
		} else {
			_ = job.RetryTransient(now, err.Error(), e.cfg.RetryBase)
		}
		return e.persist(ctx, job)
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return err
	}

	from := job.StartDate
	to := job.EndDate.AddDate(0, 0, 1).Add(-time.Second)
	points, err := e.source.FetchRange(ctx, a.Symbol, from, to)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.applyFetchFailure(ctx, job, a.Symbol, err)
	}

	inserted, skipped, err := e.assets.StorePrices(ctx, job.AssetID, points)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = job.RetryTransient(time.Now(), err.Error(), e.cfg.RetryBase)
		return e.persist(ctx, job)
	}

	_ = job.Complete(time.Now())
	if err := e.persist(ctx, job); err != nil {
		return err
	}

	e.recorder.Info(ctx, "backfill job completed", map[string]interface{}{
		"job_id":     job.ID,
		"asset_id":   job.AssetID,
		"symbol":     a.Symbol,
		"inserted":   inserted,
		"skipped":    skipped,
		"start_date": job.StartDate.Format("2006-01-02"),
		"end_date":   job.EndDate.Format("2006-01-02"),
	})

	e.cacheLatest(ctx, a.Symbol, points)
	return nil
}

func (e *Engine) applyFetchFailure(ctx context.Context, job *Job, symbol string, ferr error) error {
	now := time.Now()
	kind, ok := pricefeed.KindOf(ferr)
	if !ok {
		kind = pricefeed.KindTransient
	}

	throttled := false
	switch kind {
	case pricefeed.KindThrottled:
		delay := e.limiter.ThrottleDelay(job.ThrottleCount + 1)
		_ = job.Throttle(now, ferr.Error(), delay)
		throttled = true
		e.recorder.Warning(ctx, "backfill throttled by price source", map[string]interface{}{
			"job_id":         job.ID,
			"asset_id":       job.AssetID,
			"symbol":         symbol,
			"throttle_count": job.ThrottleCount,
			"retry_after":    job.RetryAfter,
		})

	case pricefeed.KindNotFound:
		_ = job.FailPermanently(now, ferr.Error())
		e.recorder.Error(ctx, "backfill failed permanently", map[string]interface{}{
			"job_id":   job.ID,
			"asset_id": job.AssetID,
			"symbol":   symbol,
			"reason":   ferr.Error(),
		})

	default:
		_ = job.RetryTransient(now, ferr.Error(), e.cfg.RetryBase)
		if job.Status == StatusFailed {
			e.recorder.Error(ctx, "backfill job exhausted retries", map[string]interface{}{
				"job_id":   job.ID,
				"asset_id": job.AssetID,
				"symbol":   symbol,
				"attempts": job.Attempts,
				"reason":   ferr.Error(),
			})
		} else {
			e.recorder.Warning(ctx, "backfill attempt failed", map[string]interface{}{
				"job_id":      job.ID,
				"asset_id":    job.AssetID,
				"symbol":      symbol,
				"attempts":    job.Attempts,
				"retry_after": job.RetryAfter,
				"reason":      ferr.Error(),
			})
		}
	}

	if err := e.persist(ctx, job); err != nil {
		return err
	}

	// park the worker too, otherwise the next claim hits the
	// provider while it is still pushing back
	if throttled {
		_ = e.limiter.ReportThrottled(ctx, job.ThrottleCount)
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, job *Job) error {
	if err := e.queue.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist backfill job %d: %w", job.ID, err)
	}
	return nil
}

func (e *Engine) cacheLatest(ctx context.Context, symbol string, points []asset.PricePoint) {
	var latest *asset.PricePoint
	for i := range points {
		if latest == nil || points[i].Time.After(latest.Time) {
			latest = &points[i]
		}
	}
	if latest != nil {
		e.assets.CachePrice(ctx, symbol, latest.Close, latest.Source)
	}
}
