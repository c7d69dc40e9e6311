package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByState       map[string]int `json:"by_state"`
	ByPipeline    map[string]int `json:"by_pipeline"`
	Cancelled     int            `json:"cancelled"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	LiveSignals   int            `json:"live_signals"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByState:       stats.CountByState,
		ByPipeline:    stats.CountByPipeline,
		Cancelled:     stats.Cancelled,
		AvgDurationMS: stats.AvgDurationMS,
		LiveSignals:   s.engine.Signals().Live(),
	})
}
