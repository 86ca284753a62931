package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/pkg/money"
)

const (
	defaultUpdatesLimit = 20
	maxUpdatesLimit     = 200
)

// UpdatesReader is the slice of the asset service the updates endpoint
// reads from
type UpdatesReader interface {
	RecentUpdates(ctx context.Context, limit int) ([]asset.UpdateView, error)
}

// UpdatesHandler answers recent-update queries from the refresh audit log
type UpdatesHandler struct {
	assets UpdatesReader
}

// NewUpdatesHandler creates an updates handler
func NewUpdatesHandler(assets UpdatesReader) *UpdatesHandler {
	return &UpdatesHandler{assets: assets}
}

// UpdateResponse represents one refresh attempt in the API response.
// Price is a decimal string; it is null for failed attempts.
type UpdateResponse struct {
	ID         int64   `json:"id"`
	AssetID    int64   `json:"asset_id"`
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Timestamp  string  `json:"timestamp"`
	Price      *string `json:"price"`
	Success    bool    `json:"success"`
	Error      *string `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// UpdatesListResponse represents the recent-updates page
type UpdatesListResponse struct {
	Updates []UpdateResponse `json:"updates"`
	Limit   int              `json:"limit"`
}

// GetRecentUpdates handles GET /api/v1/fetcher/updates?limit=
func (h *UpdatesHandler) GetRecentUpdates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultUpdatesLimit)
	if limit < 1 {
		limit = defaultUpdatesLimit
	}
	if limit > maxUpdatesLimit {
		limit = maxUpdatesLimit
	}

	views, err := h.assets.RecentUpdates(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to read recent updates")
		return
	}

	resp := UpdatesListResponse{
		Updates: make([]UpdateResponse, 0, len(views)),
		Limit:   limit,
	}
	for _, v := range views {
		u := UpdateResponse{
			ID:         v.ID,
			AssetID:    v.AssetID,
			Symbol:     v.Symbol,
			Name:       v.Name,
			Timestamp:  v.Time.UTC().Format(time.RFC3339),
			Success:    v.Success,
			Error:      v.ErrMessage,
			DurationMS: v.DurationMS,
		}
		if v.Price != nil {
			formatted := money.FromBaseUnits(v.Price, money.PriceScale)
			u.Price = &formatted
		}
		resp.Updates = append(resp.Updates, u)
	}

	respondWithJSON(w, http.StatusOK, resp)
}
