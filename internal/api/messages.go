package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/protocol"
	"github.com/seantiz/nester/internal/store"
)

// handleStreamMessages streams a run's messages as server-sent events, one
// JSON-encoded message per event. Subscribers only see messages posted after
// they connect; earlier ones are in the history endpoint.
func (s *Server) handleStreamMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for messages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if model.Terminal(run.State) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing after the run finished yields a closed channel, so the
	// loop below ends at once.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()
	sseSubscribers.Inc()
	defer sseSubscribers.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(m)
			if err != nil {
				s.logger.Error("encode message", "run_id", id, "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// historyMessage is a single message in the history response.
type historyMessage struct {
	Seq       int              `json:"seq"`
	Message   protocol.Message `json:"message"`
	CreatedAt string           `json:"created_at"`
}

// messageHistoryResponse is the JSON response for
// GET /v1/runs/:id/messages/history.
type messageHistoryResponse struct {
	RunID    string           `json:"run_id"`
	State    string           `json:"state"`
	Messages []historyMessage `json:"messages"`
}

func (s *Server) handleGetMessageHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run for message history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	stored, err := s.store.GetMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("get messages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	msgs := make([]historyMessage, len(stored))
	for i, m := range stored {
		msgs[i] = historyMessage{
			Seq:       m.Seq,
			Message:   m.Message,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, messageHistoryResponse{
		RunID:    id,
		State:    run.State,
		Messages: msgs,
	})
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, payload string) error {
	for seg := range strings.SplitSeq(payload, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
