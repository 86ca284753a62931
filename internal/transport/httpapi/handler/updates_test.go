package handler_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/transport/httpapi/handler"
)

type fakeUpdatesReader struct {
	views    []asset.UpdateView
	gotLimit int
}

func (f *fakeUpdatesReader) RecentUpdates(ctx context.Context, limit int) ([]asset.UpdateView, error) {
	f.gotLimit = limit
	return f.views, nil
}

func TestUpdatesHandler_FormatsPricesAndErrors(t *testing.T) {
	errMsg := "request timed out"
	reader := &fakeUpdatesReader{views: []asset.UpdateView{
		{
			UpdateRecord: asset.UpdateRecord{
				ID:         12,
				AssetID:    1,
				Time:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
				Price:      big.NewInt(19542000000), // 195.42 scaled by 10^8
				Success:    true,
				DurationMS: 230,
			},
			Symbol: "AAPL",
			Name:   "Apple Inc.",
		},
		{
			UpdateRecord: asset.UpdateRecord{
				ID:         11,
				AssetID:    2,
				Time:       time.Date(2025, 6, 1, 11, 59, 58, 0, time.UTC),
				Success:    false,
				ErrMessage: &errMsg,
				DurationMS: 5004,
			},
			Symbol: "TSLA",
			Name:   "Tesla Inc.",
		},
	}}
	h := handler.NewUpdatesHandler(reader)

	rec := httptest.NewRecorder()
	h.GetRecentUpdates(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fetcher/updates", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, reader.gotLimit)

	var resp handler.UpdatesListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Updates, 2)

	ok := resp.Updates[0]
	assert.Equal(t, "AAPL", ok.Symbol)
	assert.True(t, ok.Success)
	require.NotNil(t, ok.Price)
	assert.Equal(t, "195.42", *ok.Price)
	assert.Nil(t, ok.Error)
	assert.Equal(t, int64(230), ok.DurationMS)

	failed := resp.Updates[1]
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Price, "failed attempts carry no price")
	require.NotNil(t, failed.Error)
	assert.Equal(t, "request timed out", *failed.Error)
}

func TestUpdatesHandler_LimitClamped(t *testing.T) {
	reader := &fakeUpdatesReader{}
	h := handler.NewUpdatesHandler(reader)

	rec := httptest.NewRecorder()
	h.GetRecentUpdates(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fetcher/updates?limit=1000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 200, reader.gotLimit)
}
