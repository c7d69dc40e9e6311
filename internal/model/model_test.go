package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestForwardTransitions(t *testing.T) {
	path := []string{StateIdle, StateConfiguring, StateImporting, StateRunning, StateExporting, StateFinished}
	for i := 0; i+1 < len(path); i++ {
		if !ValidTransition(path[i], path[i+1]) {
			t.Errorf("ValidTransition(%q, %q) = false, want true", path[i], path[i+1])
		}
	}
}

func TestEveryActiveStateMayFail(t *testing.T) {
	for _, from := range []string{StateIdle, StateConfiguring, StateImporting, StateRunning, StateExporting} {
		if !ValidTransition(from, StateError) {
			t.Errorf("ValidTransition(%q, error) = false, want true", from)
		}
	}
}

func TestTransitionsAreOneDirectional(t *testing.T) {
	tests := []struct{ from, to string }{
		{StateRunning, StateImporting},
		{StateExporting, StateRunning},
		{StateConfiguring, StateRunning},
		{StateIdle, StateFinished},
		{StateFinished, StateError},
		{StateError, StateFinished},
		{StateError, StateIdle},
	}
	for _, tt := range tests {
		if ValidTransition(tt.from, tt.to) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", tt.from, tt.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(StateFinished) || !Terminal(StateError) {
		t.Error("finished and error must be terminal")
	}
	if Terminal(StateRunning) {
		t.Error("running must not be terminal")
	}
}
