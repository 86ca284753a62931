package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/karpovdv/folio/internal/platform/monitor"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// LogsHandler answers paginated log queries from the persisted log store
type LogsHandler struct {
	store monitor.LogStore
}

// NewLogsHandler creates a logs handler
func NewLogsHandler(store monitor.LogStore) *LogsHandler {
	return &LogsHandler{store: store}
}

// LogEntryResponse represents one log entry in the API response
type LogEntryResponse struct {
	ID        int64                  `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// LogsResponse represents a page of log entries
type LogsResponse struct {
	Entries []LogEntryResponse `json:"entries"`
	Total   int64              `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// GetLogs handles GET /api/v1/fetcher/logs?limit=&offset=&level=
func (h *LogsHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLogLimit)
	if limit < 1 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var level *monitor.Level
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, err := monitor.ParseLevel(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid level filter")
			return
		}
		level = &parsed
	}

	entries, total, err := h.store.List(r.Context(), limit, offset, level)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}

	resp := LogsResponse{
		Entries: make([]LogEntryResponse, 0, len(entries)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, LogEntryResponse{
			ID:        e.ID,
			Timestamp: e.Time.UTC().Format(time.RFC3339),
			Level:     string(e.Level),
			Message:   e.Message,
			Context:   e.Context,
		})
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// queryInt parses an integer query parameter, falling back to the
// default on absence or garbage
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
