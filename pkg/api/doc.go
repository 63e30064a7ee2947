// Package api contains the core types shared by the questflow session store
// and navigator: questions and flows, response values, sessions, navigation
// configuration and observers.
//
// Most users interact with the higher-level questflow package, which
// re-exports selected types and helpers from this package. The api package is
// intended for custom storage backends, observers and integrations.
//
// # Values
//
// A Value is the answer to one question: null, a string, a number, a bool or
// a list of strings. It encodes to the matching JSON type, so stored sessions
// stay readable by other clients.
//
// # Sessions
//
// A Session is the resumable state of one user's pass through a flow: the
// answers keyed by question ID, the current section and question indexes,
// the progress percentage, the time of the last save and some metadata.
//
// # Navigation
//
// NavigationConfig controls auto-advance. Presets cover the common cases:
//
//   - conservative: no auto-advance, confirmation required
//   - standard:     1.5s auto-advance on select, boolean and scale
//   - fast:         0.8s auto-advance on the same types
//   - clinical:     2.5s auto-advance on scales only, confirmation required
//   - health:       1.8s auto-advance on select, boolean and scale
//
// # Observability
//
// Observers receive session and navigation events. LoggingObserver writes
// them with log/slog, BasicMetrics keeps counters, and CompositeObserver fans
// out to several observers.
package api
