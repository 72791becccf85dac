package fanout

import (
	"encoding/json"
	"net/http"
)

// StatsHandler serves GET /api/v1/telemetry/hub/stats.
type StatsHandler struct {
	hub *Hub
}

// NewStatsHandler constructs a stats handler.
func NewStatsHandler(hub *Hub) *StatsHandler {
	return &StatsHandler{hub: hub}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.hub.Stats())
}
