package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/protocol"
)

func TestStreamMessagesNotFound(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamMessagesFinishedRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, run := postRun(t, ts, "?pipeline=lbf", testRequest(`,"seed":1`))
	waitForState(t, srv, run.ID, model.StateFinished)

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestStreamMessagesReceivesEvents(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, run := postRun(t, ts, "?pipeline=hold", testRequest(`,"seed":1,"timeLimitSeconds":60`))

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// Cancel once the stream is open so the terminal message reaches it.
	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.engine.Cancel(t.Context(), run.ID)
	}()

	var (
		msgs []protocol.Message
		done bool
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			done = true
			break
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var m protocol.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		msgs = append(msgs, m)
	}

	if !done {
		t.Fatal("stream ended without done event")
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Type != protocol.StatusFinished {
		t.Errorf("last event should be finished, got %+v", msgs)
	}
}

func TestMessageHistory(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, run := postRun(t, ts, "?pipeline=lbf", testRequest(`,"seed":1`))
	waitForState(t, srv, run.ID, model.StateFinished)

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/messages/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var history messageHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if history.RunID != run.ID {
		t.Errorf("run_id = %q, want %q", history.RunID, run.ID)
	}
	if history.State != model.StateFinished {
		t.Errorf("state = %q, want finished", history.State)
	}
	if len(history.Messages) < 2 {
		t.Fatalf("messages = %d, want at least start and finished", len(history.Messages))
	}
	first, last := history.Messages[0], history.Messages[len(history.Messages)-1]
	if first.Message.Type != protocol.StatusStart {
		t.Errorf("first = %s, want start", first.Message.Type)
	}
	if last.Message.Type != protocol.StatusFinished {
		t.Errorf("last = %s, want finished", last.Message.Type)
	}
	for i, m := range history.Messages {
		if m.Seq != i {
			t.Errorf("message %d has seq %d", i, m.Seq)
		}
		if m.Message.Type == protocol.StatusIntermediate {
			t.Error("lbf never previews")
		}
	}
}

func TestMessageHistoryNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/messages/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
