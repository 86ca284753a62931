package handler

import (
	"net/http"
	"time"

	"github.com/karpovdv/folio/internal/platform/monitor"
)

// StatisticsHandler answers statistics requests from the latest
// persisted snapshot
type StatisticsHandler struct {
	snapshots monitor.SnapshotStore
}

// NewStatisticsHandler creates a statistics handler
func NewStatisticsHandler(snapshots monitor.SnapshotStore) *StatisticsHandler {
	return &StatisticsHandler{snapshots: snapshots}
}

// StatisticsResponse represents a statistics snapshot in the API response
type StatisticsResponse struct {
	Timestamp            string  `json:"timestamp"`
	UptimeSeconds        int64   `json:"uptime_seconds"`
	TotalCycles          int64   `json:"total_cycles"`
	SuccessfulCycles     int64   `json:"successful_cycles"`
	FailedCycles         int64   `json:"failed_cycles"`
	SuccessRate          float64 `json:"success_rate"`
	AvgCycleDurationSecs float64 `json:"average_cycle_duration"`
	AssetsTracked        int     `json:"assets_tracked"`
}

// GetStatistics handles GET /api/v1/fetcher/statistics
func (h *StatisticsHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Latest(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to read statistics")
		return
	}
	if snap == nil {
		respondWithError(w, http.StatusNotFound, "no statistics recorded yet")
		return
	}

	respondWithJSON(w, http.StatusOK, StatisticsResponse{
		Timestamp:            snap.Time.UTC().Format(time.RFC3339),
		UptimeSeconds:        snap.UptimeSeconds,
		TotalCycles:          snap.TotalCycles,
		SuccessfulCycles:     snap.SuccessfulCycles,
		FailedCycles:         snap.FailedCycles,
		SuccessRate:          snap.SuccessRate,
		AvgCycleDurationSecs: snap.AvgCycleSeconds,
		AssetsTracked:        snap.AssetsTracked,
	})
}
