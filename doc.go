// Package questflow provides a resilient session and navigation engine for
// multi-step questionnaires.
//
// Questflow is designed for services and clients that walk a user through a
// long form (health intakes, screenings, surveys) where losing progress is
// not acceptable. Answers are held in memory, saved on a timer and on demand,
// and resumed on the next visit. Navigation decides when an answer moves the
// user forward on its own and when an explicit step is required.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Storage
//  2. Session Store
//  3. Navigator
//  4. FlowBuilder
//  5. Runner
//
// # Storage
//
// Storage is a small string key-value contract (Get, Set, Remove, Keys).
// Backends:
//
//   - In-memory, with an optional byte quota (best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Backends report a full medium as ErrQuotaExceeded and short-lived
// failures (busy database, network timeout) as transient errors.
//
// # Session Store
//
// The session store keeps one user's session under a primary and a backup
// key. It:
//   - resumes a stored copy unless it is older than the staleness window
//   - falls back to the backup when the primary does not parse
//   - auto-saves every 15 seconds while there are unsaved changes
//   - never runs two saves at once
//   - evicts other users' sessions once when the medium is full
//
// # Navigator
//
// The navigator holds the current question and the latest answer. Eligible
// answers (select, boolean and scale questions by default) schedule an
// auto-advance that reports progress every 100ms and then performs the same
// validated step as an explicit Next. Going back, a newer answer, or a new
// question cancels it. Questions with a RiskWeight of 8 or more never
// auto-advance.
//
// Navigation behaviour comes from presets: conservative, standard, fast,
// clinical and health.
//
// # FlowBuilder
//
// FlowBuilder defines the ordered sections of a questionnaire:
//
//	questflow.New("intake").
//	    Version("2.1").
//	    Section("mood", mood).
//	    Section("sleep", hours, quality)
//
// # Runner
//
// Runner bundles a Store and a Navigator over one flow for one user. It
// resumes at the stored position, records answers, tracks progress and an
// estimate of the time remaining, and runs a final validation sweep.
//
// For runnable programs, see the /examples directory.
package questflow
