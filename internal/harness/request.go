package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"
)

// maxTimeLimitSeconds is the first time limit a time.Duration cannot hold.
var maxTimeLimitSeconds = float64(math.MaxInt64) / float64(time.Second)

// Request is an inbound computation request. It is parsed once and not
// modified afterwards.
type Request struct {
	Instance            json.RawMessage `json:"instance"`
	TimeLimitSeconds    *float64        `json:"timeLimitSeconds,omitempty"`
	Seed                *uint64         `json:"seed,omitempty"`
	ShowPreview         *bool           `json:"showPreview,omitempty"`
	UseEarlyTermination *bool           `json:"useEarlyTermination,omitempty"`
}

// ParseRequest decodes raw into a Request. Every failure wraps
// ErrMalformedRequest.
func ParseRequest(raw []byte) (Request, error) {
	var req Request

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Request{}, fmt.Errorf("%w: trailing data after request", ErrMalformedRequest)
	}

	trimmed := bytes.TrimSpace(req.Instance)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Request{}, fmt.Errorf("%w: instance is required", ErrMalformedRequest)
	}
	if tl := req.TimeLimitSeconds; tl != nil {
		if *tl <= 0 {
			return Request{}, fmt.Errorf("%w: timeLimitSeconds must be positive, got %v", ErrMalformedRequest, *tl)
		}
		if *tl >= maxTimeLimitSeconds {
			return Request{}, fmt.Errorf("%w: timeLimitSeconds too large, got %v", ErrMalformedRequest, *tl)
		}
	}

	return req, nil
}
