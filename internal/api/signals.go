package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/nester/internal/engine"
	"github.com/seantiz/nester/internal/terminator"
)

// writeSignalRequest is the JSON body for PUT /v1/signals/:handle.
type writeSignalRequest struct {
	Cancel *bool `json:"cancel"`
}

type writeSignalResponse struct {
	Handle uint32 `json:"handle"`
	Cancel bool   `json:"cancel"`
	RunID  string `json:"run_id,omitempty"`
}

// handleWriteSignal raises the cancellation cell a run's handle addresses. It
// is the controller-side write path for clients that hold a published handle
// rather than a run ID. Only handles of active runs resolve; handle 0, the
// CLI's shared cell, is never one of them.
func (s *Server) handleWriteSignal(w http.ResponseWriter, r *http.Request) {
	h, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "handle must be an unsigned 32-bit integer")
		return
	}

	var req writeSignalRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cancel == nil {
		s.writeError(w, http.StatusBadRequest, "cancel is required")
		return
	}

	runID, err := s.engine.WriteSignal(r.Context(), terminator.Handle(h), *req.Cancel)
	if errors.Is(err, terminator.ErrUnknownHandle) {
		s.writeError(w, http.StatusNotFound, "signal handle not found")
		return
	}
	if errors.Is(err, engine.ErrSignalClear) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("write signal", "handle", h, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to write signal")
		return
	}

	s.writeJSON(w, http.StatusOK, writeSignalResponse{
		Handle: uint32(h),
		Cancel: *req.Cancel,
		RunID:  runID,
	})
}
