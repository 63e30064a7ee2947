package diag

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestInit_OnlyOnce(t *testing.T) {
	current.Store(nil)
	t.Cleanup(func() { current.Store(nil) })

	if Initialized() {
		t.Fatalf("expected no state before Init")
	}
	if s := Current(); s.Debug || s.Version != "" || s.Features != nil || !s.StartedAt.IsZero() {
		t.Fatalf("expected zero state before Init, got %+v", s)
	}
	if Enabled("voice") {
		t.Fatalf("no feature is enabled before Init")
	}

	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := Init(State{Debug: true, Version: "1.2.3", Features: []string{"voice", "a11y", "voice"}, StartedAt: started}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(State{Version: "other"}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	s := Current()
	if !Initialized() || !s.Debug || s.Version != "1.2.3" || !s.StartedAt.Equal(started) {
		t.Fatalf("unexpected state %+v", s)
	}
	if !slices.Equal(s.Features, []string{"a11y", "voice"}) {
		t.Fatalf("expected sorted unique features, got %v", s.Features)
	}
	if !Enabled("voice") || Enabled("beta") {
		t.Fatalf("Enabled mismatch for %v", s.Features)
	}

	// Callers cannot mutate the shared state through the copy.
	s.Features[0] = "mutated"
	if got := Current().Features; !slices.Equal(got, []string{"a11y", "voice"}) {
		t.Fatalf("shared state was mutated: %v", got)
	}
}
