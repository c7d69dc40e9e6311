package api

import (
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

// handleHealthz reports ok once the worker pool is bootstrapped. Runs cannot
// enter running before that, so an unbootstrapped pool is unhealthy.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	pool := s.engine.Pool()
	if !pool.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "worker pool not bootstrapped"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Workers: pool.Size()})
}
