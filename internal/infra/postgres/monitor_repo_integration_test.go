//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpovdv/folio/internal/platform/monitor"
)

// Note: testDB is defined in backfill_repo_integration_test.go

func setupLogTest(t *testing.T) (*LogRepository, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))
	return NewLogRepository(testDB.Pool), ctx
}

func writeEntry(t *testing.T, ctx context.Context, repo *LogRepository, at time.Time, level monitor.Level, msg string) *monitor.Entry {
	e := &monitor.Entry{
		Time:    at,
		Level:   level,
		Message: msg,
		Context: map[string]interface{}{"cycle_id": "test-cycle"},
	}
	require.NoError(t, repo.Write(ctx, e))
	return e
}

func TestLogRepository_WriteAndList(t *testing.T) {
	repo, ctx := setupLogTest(t)

	base := time.Now().Add(-time.Hour)
	writeEntry(t, ctx, repo, base, monitor.LevelInfo, "refresh cycle started")
	warn := writeEntry(t, ctx, repo, base.Add(time.Minute), monitor.LevelWarning, "asset refresh failed")
	newest := writeEntry(t, ctx, repo, base.Add(2*time.Minute), monitor.LevelInfo, "refresh cycle completed")

	entries, total, err := repo.List(ctx, 50, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, entries, 3)

	// newest first
	assert.Equal(t, newest.ID, entries[0].ID)
	assert.Equal(t, "refresh cycle completed", entries[0].Message)
	assert.Equal(t, monitor.LevelInfo, entries[0].Level)
	assert.Equal(t, "test-cycle", entries[0].Context["cycle_id"])

	// severity filter narrows both the page and the total
	level := monitor.LevelWarning
	filtered, total, err := repo.List(ctx, 50, 0, &level)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, filtered, 1)
	assert.Equal(t, warn.ID, filtered[0].ID)
}

func TestLogRepository_List_Pagination(t *testing.T) {
	repo, ctx := setupLogTest(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		writeEntry(t, ctx, repo, base.Add(time.Duration(i)*time.Minute), monitor.LevelInfo, "entry")
	}

	page1, total, err := repo.List(ctx, 2, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page1, 2)

	page2, _, err := repo.List(ctx, 2, 2, nil)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
	assert.Greater(t, page1[1].ID, page2[0].ID, "pages walk backwards in time")
}

func TestLogRepository_PurgeOlderThan(t *testing.T) {
	repo, ctx := setupLogTest(t)

	old := time.Now().AddDate(0, 0, -31)
	writeEntry(t, ctx, repo, old, monitor.LevelInfo, "ancient entry")
	writeEntry(t, ctx, repo, old.Add(time.Hour), monitor.LevelError, "ancient failure")
	keep := writeEntry(t, ctx, repo, time.Now().Add(-time.Hour), monitor.LevelInfo, "recent entry")

	removed, err := repo.PurgeOlderThan(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	entries, total, err := repo.List(ctx, 50, 0, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, keep.ID, entries[0].ID)
}

func setupStatsTest(t *testing.T) (*StatsRepository, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))
	return NewStatsRepository(testDB.Pool), ctx
}

func TestStatsRepository_InsertAndLatest(t *testing.T) {
	repo, ctx := setupStatsTest(t)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty table yields no snapshot")

	first := &monitor.Snapshot{
		Time:             time.Now().Add(-time.Hour),
		UptimeSeconds:    3600,
		TotalCycles:      6,
		SuccessfulCycles: 5,
		FailedCycles:     1,
		SuccessRate:      83.33,
		AvgCycleSeconds:  2.41,
		AssetsTracked:    12,
	}
	require.NoError(t, repo.Insert(ctx, first))
	assert.NotZero(t, first.ID)

	second := &monitor.Snapshot{
		Time:             time.Now(),
		UptimeSeconds:    7200,
		TotalCycles:      12,
		SuccessfulCycles: 11,
		FailedCycles:     1,
		SuccessRate:      91.67,
		AvgCycleSeconds:  2.38,
		AssetsTracked:    12,
	}
	require.NoError(t, repo.Insert(ctx, second))

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.EqualValues(t, 12, latest.TotalCycles)
	assert.InDelta(t, 91.67, latest.SuccessRate, 0.001)
	assert.InDelta(t, 2.38, latest.AvgCycleSeconds, 0.001)
	assert.Equal(t, 12, latest.AssetsTracked)
}
