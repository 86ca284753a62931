package fetcher_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/platform/backfill"
	"github.com/karpovdv/folio/internal/platform/fetcher"
	"github.com/karpovdv/folio/internal/platform/monitor"
	"github.com/karpovdv/folio/internal/platform/pricefeed"
	"github.com/karpovdv/folio/pkg/logger"
)

// ==== Fakes ====

type fakeCatalog struct {
	mu          sync.Mutex
	tracked     []asset.TrackedAsset
	refreshErr  error
	holders     map[int64]int
	trackErr    error
	covered     bool
	coverageErr error
	storeErr    error
	stored      map[int64][]asset.PricePoint
	records     []asset.UpdateRecord
	recordErr   error
	refreshedAt map[int64]time.Time
	cached      map[string]*big.Int
}

var _ fetcher.Catalog = (*fakeCatalog)(nil)

func newFakeCatalog(tracked ...asset.TrackedAsset) *fakeCatalog {
	return &fakeCatalog{
		tracked:     tracked,
		holders:     make(map[int64]int),
		stored:      make(map[int64][]asset.PricePoint),
		refreshedAt: make(map[int64]time.Time),
		cached:      make(map[string]*big.Int),
	}
}

func (c *fakeCatalog) RefreshSet(ctx context.Context) ([]asset.TrackedAsset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	out := make([]asset.TrackedAsset, len(c.tracked))
	copy(out, c.tracked)
	return out, nil
}

func (c *fakeCatalog) TrackedCount(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshErr != nil {
		return 0, c.refreshErr
	}
	return len(c.tracked), nil
}

func (c *fakeCatalog) Track(ctx context.Context, assetID int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackErr != nil {
		return 0, c.trackErr
	}
	c.holders[assetID]++
	return c.holders[assetID], nil
}

func (c *fakeCatalog) HasCoverage(ctx context.Context, assetID int64, from, to time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coverageErr != nil {
		return false, c.coverageErr
	}
	return c.covered, nil
}

func (c *fakeCatalog) StorePrices(ctx context.Context, assetID int64, points []asset.PricePoint) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr != nil {
		return 0, 0, c.storeErr
	}
	c.stored[assetID] = append(c.stored[assetID], points...)
	return len(points), 0, nil
}

func (c *fakeCatalog) RecordUpdate(ctx context.Context, rec *asset.UpdateRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recordErr != nil {
		return c.recordErr
	}
	c.records = append(c.records, *rec)
	return nil
}

func (c *fakeCatalog) MarkRefreshed(ctx context.Context, assetID int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshedAt[assetID] = at
	return nil
}

func (c *fakeCatalog) CachePrice(ctx context.Context, symbol string, price *big.Int, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached[symbol] = price
}

func (c *fakeCatalog) auditRows() []asset.UpdateRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]asset.UpdateRecord, len(c.records))
	copy(out, c.records)
	return out
}

// fakeSource serves per-symbol outcomes for current-price fetches
type fakeSource struct {
	mu      sync.Mutex
	prices  map[string]*asset.PricePoint
	errs    map[string]error
	panicOn string
	fetches int
}

var _ pricefeed.Source = (*fakeSource)(nil)

func (s *fakeSource) FetchCurrent(ctx context.Context, symbol string) (*asset.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if symbol == s.panicOn {
		panic("quote decoder blew up")
	}
	if err, ok := s.errs[symbol]; ok {
		return nil, err
	}
	if p, ok := s.prices[symbol]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, pricefeed.NotFound(symbol, nil)
}

func (s *fakeSource) FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]asset.PricePoint, error) {
	return nil, errors.New("not used")
}

type fakeBackfiller struct {
	mu      sync.Mutex
	windows []enqueuedWindow
	err     error
	nextID  int64
}

type enqueuedWindow struct {
	assetID    int64
	start, end time.Time
}

var _ fetcher.Backfiller = (*fakeBackfiller)(nil)

func (b *fakeBackfiller) Enqueue(ctx context.Context, assetID int64, start, end time.Time) (*backfill.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.nextID++
	b.windows = append(b.windows, enqueuedWindow{assetID: assetID, start: start, end: end})
	return &backfill.Job{ID: b.nextID, AssetID: assetID, StartDate: start, EndDate: end, Status: backfill.StatusPending}, nil
}

func (b *fakeBackfiller) enqueued() []enqueuedWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]enqueuedWindow, len(b.windows))
	copy(out, b.windows)
	return out
}

type fakeRevaluer struct {
	mu      sync.Mutex
	calls   int
	updated int
	failed  int
	err     error
}

var _ fetcher.Revaluer = (*fakeRevaluer)(nil)

func (r *fakeRevaluer) RecalculateAll(ctx context.Context) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.updated, r.failed, r.err
}

func (r *fakeRevaluer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeEventStore struct {
	mu   sync.Mutex
	seen map[int64]bool
	err  error
}

var _ fetcher.EventStore = (*fakeEventStore)(nil)

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{seen: make(map[int64]bool)}
}

func (e *fakeEventStore) MarkProcessed(ctx context.Context, transactionID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return false, e.err
	}
	if e.seen[transactionID] {
		return false, nil
	}
	e.seen[transactionID] = true
	return true, nil
}

type fakeSnapshotStore struct {
	mu    sync.Mutex
	snaps []monitor.Snapshot
	err   error
}

var _ monitor.SnapshotStore = (*fakeSnapshotStore)(nil)

func (s *fakeSnapshotStore) Insert(ctx context.Context, snap *monitor.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, *snap)
	return nil
}

func (s *fakeSnapshotStore) Latest(ctx context.Context) (*monitor.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return nil, nil
	}
	cp := s.snaps[len(s.snaps)-1]
	return &cp, nil
}

func (s *fakeSnapshotStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

// ==== Harness ====

type harness struct {
	svc       *fetcher.Service
	catalog   *fakeCatalog
	source    *fakeSource
	backfills *fakeBackfiller
	revaluer  *fakeRevaluer
	events    *fakeEventStore
	stats     *monitor.Stats
	snapshots *fakeSnapshotStore
}

func newHarness(catalog *fakeCatalog, source *fakeSource) *harness {
	log := logger.New("test", io.Discard)
	limiter := pricefeed.NewRateLimiter(time.Millisecond, 100000).
		WithThrottleBackoff(time.Millisecond, 8*time.Millisecond)

	h := &harness{
		catalog:   catalog,
		source:    source,
		backfills: &fakeBackfiller{},
		revaluer:  &fakeRevaluer{updated: 2},
		events:    newFakeEventStore(),
		stats:     monitor.NewStats(),
		snapshots: &fakeSnapshotStore{},
	}
	cfg := &fetcher.Config{UpdateInterval: 25 * time.Millisecond, RetryDelay: time.Millisecond}
	h.svc = fetcher.NewService(cfg, catalog, source, limiter,
		h.backfills, h.revaluer, h.events, h.stats,
		monitor.NewRecorder(nil, log), h.snapshots, log)
	return h
}

func trackedSet() []asset.TrackedAsset {
	now := time.Now()
	return []asset.TrackedAsset{
		{AssetID: 1, Symbol: "AAPL", Holders: 2, FirstTrackedAt: now, LastTrackedAt: now},
		{AssetID: 2, Symbol: "MSFT", Holders: 1, FirstTrackedAt: now, LastTrackedAt: now},
		{AssetID: 3, Symbol: "BTC-USD", Holders: 1, FirstTrackedAt: now, LastTrackedAt: now},
	}
}

func quote(assetID int64, cents int64) *asset.PricePoint {
	return &asset.PricePoint{
		AssetID: assetID,
		Time:    time.Now().UTC(),
		Close:   big.NewInt(cents),
		Source:  "chartapi",
	}
}

// ==== Cycle tests ====

func TestService_RunCycle_MixedOutcomes(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()...)
	source := &fakeSource{
		prices: map[string]*asset.PricePoint{
			"AAPL":    quote(1, 19542000000),
			"BTC-USD": quote(3, 6412345000000),
		},
		errs: map[string]error{
			"MSFT": pricefeed.Transient("MSFT", errors.New("connection reset")),
		},
	}
	h := newHarness(catalog, source)

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, 3, report.Tracked)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.Success, "one refreshed asset is enough for a successful cycle")

	// every attempt lands exactly one audit row
	rows := catalog.auditRows()
	require.Len(t, rows, 3)
	byAsset := make(map[int64]asset.UpdateRecord, len(rows))
	for _, r := range rows {
		byAsset[r.AssetID] = r
	}
	assert.True(t, byAsset[1].Success)
	assert.Equal(t, big.NewInt(19542000000), byAsset[1].Price)
	assert.False(t, byAsset[2].Success)
	assert.Nil(t, byAsset[2].Price)
	require.NotNil(t, byAsset[2].ErrMessage)
	assert.Contains(t, *byAsset[2].ErrMessage, "connection reset")
	assert.True(t, byAsset[3].Success)

	// stored, stamped and cached only for the assets that refreshed
	assert.Len(t, catalog.stored[1], 1)
	assert.Empty(t, catalog.stored[2])
	assert.Len(t, catalog.stored[3], 1)
	assert.Contains(t, catalog.refreshedAt, int64(1))
	assert.NotContains(t, catalog.refreshedAt, int64(2))
	assert.Equal(t, big.NewInt(19542000000), catalog.cached["AAPL"])

	assert.Equal(t, 1, h.revaluer.callCount(), "successful cycle revalues exactly once")

	snap := h.stats.Snapshot(3)
	assert.EqualValues(t, 1, snap.TotalCycles)
	assert.EqualValues(t, 1, snap.SuccessfulCycles)
	assert.EqualValues(t, 0, snap.FailedCycles)
}

func TestService_RunCycle_AllFailuresSkipsRevaluation(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()...)
	source := &fakeSource{errs: map[string]error{
		"AAPL":    pricefeed.Transient("AAPL", errors.New("tls handshake timeout")),
		"MSFT":    pricefeed.Transient("MSFT", errors.New("tls handshake timeout")),
		"BTC-USD": pricefeed.NotFound("BTC-USD", nil),
	}}
	h := newHarness(catalog, source)

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, 3, report.Failed)
	assert.Zero(t, report.Updated)
	assert.False(t, report.Success)
	assert.Zero(t, h.revaluer.callCount(), "failed cycle must not revalue")

	snap := h.stats.Snapshot(3)
	assert.EqualValues(t, 1, snap.FailedCycles)
}

func TestService_RunCycle_EmptyRefreshSetIsSuccessfulNoOp(t *testing.T) {
	catalog := newFakeCatalog()
	h := newHarness(catalog, &fakeSource{})

	report := h.svc.RunCycle(context.Background())

	assert.Zero(t, report.Tracked)
	assert.True(t, report.Success)
	assert.Empty(t, catalog.auditRows())
	assert.Zero(t, h.source.fetches)
	assert.Equal(t, 1, h.revaluer.callCount(), "an empty set still counts as a successful cycle")
}

func TestService_RunCycle_RefreshSetErrorFailsCycle(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()...)
	catalog.refreshErr = errors.New("connection refused")
	h := newHarness(catalog, &fakeSource{})

	report := h.svc.RunCycle(context.Background())

	assert.False(t, report.Success)
	assert.Zero(t, report.Tracked)
	assert.Zero(t, h.revaluer.callCount())

	snap := h.stats.Snapshot(0)
	assert.EqualValues(t, 1, snap.TotalCycles)
	assert.EqualValues(t, 1, snap.FailedCycles)
}

func TestService_RunCycle_ThrottledAssetCountsAsFailure(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()[:1]...)
	source := &fakeSource{errs: map[string]error{
		"AAPL": pricefeed.Throttled("AAPL", errors.New("429 too many requests")),
	}}
	h := newHarness(catalog, source)

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Success)

	rows := catalog.auditRows()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	require.NotNil(t, rows[0].ErrMessage)
	assert.Contains(t, *rows[0].ErrMessage, "429")
}

func TestService_RunCycle_StoreFailureAudited(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()[:1]...)
	catalog.storeErr = errors.New("deadlock detected")
	source := &fakeSource{prices: map[string]*asset.PricePoint{"AAPL": quote(1, 19542000000)}}
	h := newHarness(catalog, source)

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Updated)

	rows := catalog.auditRows()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	require.NotNil(t, rows[0].ErrMessage)
	assert.Contains(t, *rows[0].ErrMessage, "deadlock")
}

func TestService_RunCycle_AuditWriteFailureDoesNotFailRefresh(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()[:1]...)
	catalog.recordErr = errors.New("log table unavailable")
	source := &fakeSource{prices: map[string]*asset.PricePoint{"AAPL": quote(1, 19542000000)}}
	h := newHarness(catalog, source)

	report := h.svc.RunCycle(context.Background())

	assert.Equal(t, 1, report.Updated)
	assert.True(t, report.Success)
	assert.Len(t, catalog.stored[1], 1, "price write must survive a broken audit trail")
}

func TestService_RunCycle_PanicContained(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()[:1]...)
	source := &fakeSource{panicOn: "AAPL"}
	h := newHarness(catalog, source)
	ctx := context.Background()

	var report fetcher.CycleReport
	require.NotPanics(t, func() { report = h.svc.RunCycle(ctx) })
	assert.False(t, report.Success)

	snap := h.stats.Snapshot(1)
	assert.EqualValues(t, 1, snap.FailedCycles)

	// the loop survives: the next cycle runs normally
	source.mu.Lock()
	source.panicOn = ""
	source.prices = map[string]*asset.PricePoint{"AAPL": quote(1, 19542000000)}
	source.mu.Unlock()

	report = h.svc.RunCycle(ctx)
	assert.True(t, report.Success)
}

func TestService_Run_KeepsCadenceAndWritesFinalSnapshot(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()[:1]...)
	source := &fakeSource{prices: map[string]*asset.PricePoint{"AAPL": quote(1, 19542000000)}}
	h := newHarness(catalog, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.stats.Snapshot(1).TotalCycles >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop after cancellation")
	}

	assert.GreaterOrEqual(t, h.snapshots.count(), 1, "shutdown persists a final snapshot")
}

// ==== Startup and snapshots ====

func TestService_Start_WritesInitialSnapshot(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()...)
	h := newHarness(catalog, &fakeSource{})

	require.NoError(t, h.svc.Start(context.Background()))

	require.Equal(t, 1, h.snapshots.count())
	latest, err := h.snapshots.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, latest.AssetsTracked)
	assert.Zero(t, latest.TotalCycles)
}

func TestService_PersistSnapshot_CarriesCycleCounters(t *testing.T) {
	catalog := newFakeCatalog(trackedSet()[:2]...)
	source := &fakeSource{
		prices: map[string]*asset.PricePoint{"AAPL": quote(1, 19542000000)},
		errs:   map[string]error{"MSFT": pricefeed.Transient("MSFT", errors.New("boom"))},
	}
	h := newHarness(catalog, source)
	ctx := context.Background()

	h.svc.RunCycle(ctx)
	require.NoError(t, h.svc.PersistSnapshot(ctx))

	latest, err := h.snapshots.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.EqualValues(t, 1, latest.TotalCycles)
	assert.EqualValues(t, 1, latest.SuccessfulCycles)
	assert.Equal(t, 2, latest.AssetsTracked)
	assert.InDelta(t, 100.0, latest.SuccessRate, 0.01)
}

func TestService_PersistSnapshot_PropagatesStoreError(t *testing.T) {
	catalog := newFakeCatalog()
	h := newHarness(catalog, &fakeSource{})
	h.snapshots.err = errors.New("disk full")

	err := h.svc.PersistSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

// ==== Transaction events ====

func TestService_HandleTransactionCreated_FirstHolderBackfills(t *testing.T) {
	catalog := newFakeCatalog()
	h := newHarness(catalog, &fakeSource{})
	ctx := context.Background()

	evt := fetcher.TransactionEvent{
		TransactionID: 101,
		AssetID:       7,
		Timestamp:     time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
	}
	require.NoError(t, h.svc.HandleTransactionCreated(ctx, evt))

	windows := h.backfills.enqueued()
	require.Len(t, windows, 1)
	assert.Equal(t, int64(7), windows[0].assetID)

	wantStart, wantEnd := backfill.PlanWindow(evt.Timestamp, time.Now())
	assert.Equal(t, wantStart, windows[0].start)
	assert.Equal(t, wantEnd, windows[0].end)

	assert.Equal(t, 1, catalog.holders[7])
}

func TestService_HandleTransactionCreated_DuplicateIgnored(t *testing.T) {
	catalog := newFakeCatalog()
	h := newHarness(catalog, &fakeSource{})
	ctx := context.Background()

	evt := fetcher.TransactionEvent{TransactionID: 200, AssetID: 7, Timestamp: time.Now()}
	require.NoError(t, h.svc.HandleTransactionCreated(ctx, evt))
	require.NoError(t, h.svc.HandleTransactionCreated(ctx, evt))

	assert.Equal(t, 1, catalog.holders[7], "redelivery must not grow the holder count")
	assert.Len(t, h.backfills.enqueued(), 1)
}

func TestService_HandleTransactionCreated_CoveredAssetSkipsBackfill(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.holders[7] = 1 // already tracked by someone else
	catalog.covered = true
	h := newHarness(catalog, &fakeSource{})

	evt := fetcher.TransactionEvent{TransactionID: 300, AssetID: 7, Timestamp: time.Now()}
	require.NoError(t, h.svc.HandleTransactionCreated(context.Background(), evt))

	assert.Equal(t, 2, catalog.holders[7])
	assert.Empty(t, h.backfills.enqueued(), "covered window needs no backfill")
}

func TestService_HandleTransactionCreated_CoverageErrorEnqueuesAnyway(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.holders[7] = 1
	catalog.coverageErr = errors.New("query timeout")
	h := newHarness(catalog, &fakeSource{})

	evt := fetcher.TransactionEvent{TransactionID: 400, AssetID: 7, Timestamp: time.Now()}
	require.NoError(t, h.svc.HandleTransactionCreated(context.Background(), evt))

	assert.Len(t, h.backfills.enqueued(), 1, "an unknown gap is treated as a gap")
}

func TestService_HandleTransactionCreated_TrackFailureSurfaces(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.trackErr = errors.New("constraint violation")
	h := newHarness(catalog, &fakeSource{})

	evt := fetcher.TransactionEvent{TransactionID: 500, AssetID: 7, Timestamp: time.Now()}
	err := h.svc.HandleTransactionCreated(context.Background(), evt)
	require.Error(t, err)
	assert.Empty(t, h.backfills.enqueued())
}

func TestService_HandleTransactionCreated_EnqueueFailureSurfaces(t *testing.T) {
	catalog := newFakeCatalog()
	h := newHarness(catalog, &fakeSource{})
	h.backfills.err = errors.New("queue unavailable")

	evt := fetcher.TransactionEvent{TransactionID: 600, AssetID: 7, Timestamp: time.Now()}
	err := h.svc.HandleTransactionCreated(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")
}
