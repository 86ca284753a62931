package handler

import (
	"context"
	"net/http"
	"time"
)

// StatusReader is the slice of the asset service the status endpoint
// reads from
type StatusReader interface {
	TrackedCount(ctx context.Context) (int, error)
	LastUpdateAt(ctx context.Context) (*time.Time, error)
}

// UptimeSource reports how long the daemon process has been running
type UptimeSource interface {
	Uptime() time.Duration
}

// StatusHandler answers fetcher status requests. Everything is derived
// from persistent state: the daemon is considered running while the
// newest audit row is fresher than 1.5 refresh intervals.
type StatusHandler struct {
	assets   StatusReader
	uptime   UptimeSource
	interval time.Duration
	now      func() time.Time
}

// NewStatusHandler creates a status handler for the given refresh interval
func NewStatusHandler(assets StatusReader, uptime UptimeSource, interval time.Duration) *StatusHandler {
	return &StatusHandler{
		assets:   assets,
		uptime:   uptime,
		interval: interval,
		now:      time.Now,
	}
}

// StatusResponse represents the fetcher status in the API response
type StatusResponse struct {
	Running               bool    `json:"running"`
	UptimeSeconds         int64   `json:"uptime_seconds"`
	AssetsTracked         int     `json:"assets_tracked"`
	LastUpdate            *string `json:"last_update"`
	NextUpdateInSeconds   *int64  `json:"next_update_in_seconds"`
	UpdateIntervalSeconds int64   `json:"update_interval_seconds"`
}

// GetStatus handles GET /api/v1/fetcher/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tracked, err := h.assets.TrackedCount(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to count tracked assets")
		return
	}

	lastUpdate, err := h.assets.LastUpdateAt(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to read last update")
		return
	}

	resp := StatusResponse{
		UptimeSeconds:         int64(h.uptime.Uptime().Seconds()),
		AssetsTracked:         tracked,
		UpdateIntervalSeconds: int64(h.interval.Seconds()),
	}

	if lastUpdate != nil {
		now := h.now()
		resp.Running = now.Sub(*lastUpdate) < h.interval*3/2

		formatted := lastUpdate.UTC().Format(time.RFC3339)
		resp.LastUpdate = &formatted

		countdown := nextUpdateIn(now, *lastUpdate, h.interval)
		resp.NextUpdateInSeconds = &countdown
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// nextUpdateIn computes the seconds until the next scheduled cycle:
// the refresh interval minus the elapsed time since the last update,
// modulo the interval so a stalled daemon still reports a sane value
func nextUpdateIn(now, lastUpdate time.Time, interval time.Duration) int64 {
	elapsed := now.Sub(lastUpdate)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := interval - elapsed%interval
	return int64(remaining.Seconds())
}
