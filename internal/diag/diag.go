// Package diag holds process-wide diagnostic state: the feature flags and
// debug switch a binary was started with.
//
// The state is set once by Init during startup and is read-only afterwards.
// Readers that run before Init see the zero State.
package diag

import (
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/petrijr/questflow/pkg/api"
)

// ErrAlreadyInitialized is returned by every Init call after the first.
var ErrAlreadyInitialized = errors.New("diag: already initialized")

// State is the diagnostic snapshot of the running process.
type State struct {
	Debug     bool
	Version   string
	Features  []string
	StartedAt time.Time
}

var current atomic.Pointer[State]

// Init records s as the process state. Only the first call takes effect.
func Init(s State) error {
	s.Features = api.NormalizeFeatures(s.Features)
	if !current.CompareAndSwap(nil, &s) {
		return ErrAlreadyInitialized
	}
	return nil
}

// Initialized reports whether Init has run.
func Initialized() bool {
	return current.Load() != nil
}

// Current returns a copy of the process state.
func Current() State {
	p := current.Load()
	if p == nil {
		return State{}
	}
	s := *p
	s.Features = slices.Clone(p.Features)
	return s
}

// Enabled reports whether feature was switched on at startup.
func Enabled(feature string) bool {
	p := current.Load()
	if p == nil {
		return false
	}
	_, found := slices.BinarySearch(p.Features, feature)
	return found
}
