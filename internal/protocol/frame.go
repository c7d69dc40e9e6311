package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum allowed frame payload (16 MiB).
const MaxFrameSize = 16 << 20

// WriteFrame writes m to w as a length-prefixed JSON frame: a 4-byte
// big-endian length followed by the JSON payload.
func WriteFrame(w io.Writer, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxFrameSize)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r. It returns io.EOF
// unwrapped when r is exhausted at a frame boundary.
func ReadFrame(r io.Reader) (Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxFrameSize {
		return Message{}, fmt.Errorf("message size %d exceeds maximum %d", length, MaxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, fmt.Errorf("read payload: %w", err)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return m, nil
}

// FrameSink returns a Sink writing frames to w. Write errors are handed to
// onErr, which may be nil.
func FrameSink(w io.Writer, onErr func(error)) Sink {
	return SinkFunc(func(m Message) {
		if err := WriteFrame(w, m); err != nil && onErr != nil {
			onErr(err)
		}
	})
}
