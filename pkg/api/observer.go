package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the session store and the navigator for
// logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay navigation or saves.
type Observer interface {
	// OnSessionStarted is called when Initialize creates a fresh session.
	OnSessionStarted(ctx context.Context, s *Session)

	// OnSessionRestored is called when Initialize resumes a stored session.
	OnSessionRestored(ctx context.Context, s *Session)

	// OnSaveCompleted is called after every save attempt, manual or
	// automatic. err is nil on success.
	OnSaveCompleted(ctx context.Context, s *Session, auto bool, err error, duration time.Duration)

	// OnSessionCleared is called when a session's durable copies are removed.
	OnSessionCleared(ctx context.Context, userID string)

	// OnAutoAdvanceScheduled is called when a delayed advance starts.
	OnAutoAdvanceScheduled(ctx context.Context, questionID string, delay time.Duration)

	// OnAutoAdvanceCancelled is called when a pending delayed advance is
	// superseded or torn down before it fires.
	OnAutoAdvanceCancelled(ctx context.Context, questionID string)

	// OnNavigated is called after OnNext or OnPrevious has been delivered.
	OnNavigated(ctx context.Context, questionID string, dir Direction)

	// OnValidationFailed is called when HandleNext rejects a response.
	OnValidationFailed(ctx context.Context, questionID string, message string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSessionStarted(ctx context.Context, s *Session) {}

func (NoopObserver) OnSessionRestored(ctx context.Context, s *Session) {}

func (NoopObserver) OnSaveCompleted(ctx context.Context, s *Session, auto bool, err error, d time.Duration) {
}

func (NoopObserver) OnSessionCleared(ctx context.Context, userID string) {}

func (NoopObserver) OnAutoAdvanceScheduled(ctx context.Context, questionID string, delay time.Duration) {
}

func (NoopObserver) OnAutoAdvanceCancelled(ctx context.Context, questionID string) {}

func (NoopObserver) OnNavigated(ctx context.Context, questionID string, dir Direction) {}

func (NoopObserver) OnValidationFailed(ctx context.Context, questionID string, message string) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSessionStarted(ctx context.Context, s *Session) {
	for _, o := range c.observers {
		o.OnSessionStarted(ctx, s)
	}
}

func (c *CompositeObserver) OnSessionRestored(ctx context.Context, s *Session) {
	for _, o := range c.observers {
		o.OnSessionRestored(ctx, s)
	}
}

func (c *CompositeObserver) OnSaveCompleted(ctx context.Context, s *Session, auto bool, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnSaveCompleted(ctx, s, auto, err, d)
	}
}

func (c *CompositeObserver) OnSessionCleared(ctx context.Context, userID string) {
	for _, o := range c.observers {
		o.OnSessionCleared(ctx, userID)
	}
}

func (c *CompositeObserver) OnAutoAdvanceScheduled(ctx context.Context, questionID string, delay time.Duration) {
	for _, o := range c.observers {
		o.OnAutoAdvanceScheduled(ctx, questionID, delay)
	}
}

func (c *CompositeObserver) OnAutoAdvanceCancelled(ctx context.Context, questionID string) {
	for _, o := range c.observers {
		o.OnAutoAdvanceCancelled(ctx, questionID)
	}
}

func (c *CompositeObserver) OnNavigated(ctx context.Context, questionID string, dir Direction) {
	for _, o := range c.observers {
		o.OnNavigated(ctx, questionID, dir)
	}
}

func (c *CompositeObserver) OnValidationFailed(ctx context.Context, questionID string, message string) {
	for _, o := range c.observers {
		o.OnValidationFailed(ctx, questionID, message)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session and navigation
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSessionStarted(ctx context.Context, s *Session) {
	o.Logger.InfoContext(ctx, "session_started",
		slog.String("user_id", s.UserID),
		slog.String("session_id", s.SessionID),
	)
}

func (o *LoggingObserver) OnSessionRestored(ctx context.Context, s *Session) {
	o.Logger.InfoContext(ctx, "session_restored",
		slog.String("user_id", s.UserID),
		slog.String("session_id", s.SessionID),
		slog.Float64("progress", s.Progress),
		slog.Time("last_saved_at", s.LastSavedAt),
	)
}

func (o *LoggingObserver) OnSaveCompleted(ctx context.Context, s *Session, auto bool, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "session_saved",
		slog.String("user_id", s.UserID),
		slog.String("session_id", s.SessionID),
		slog.Bool("auto", auto),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSessionCleared(ctx context.Context, userID string) {
	o.Logger.InfoContext(ctx, "session_cleared", slog.String("user_id", userID))
}

func (o *LoggingObserver) OnAutoAdvanceScheduled(ctx context.Context, questionID string, delay time.Duration) {
	o.Logger.DebugContext(ctx, "auto_advance_scheduled",
		slog.String("question_id", questionID),
		slog.Duration("delay", delay),
	)
}

func (o *LoggingObserver) OnAutoAdvanceCancelled(ctx context.Context, questionID string) {
	o.Logger.DebugContext(ctx, "auto_advance_cancelled", slog.String("question_id", questionID))
}

func (o *LoggingObserver) OnNavigated(ctx context.Context, questionID string, dir Direction) {
	o.Logger.DebugContext(ctx, "navigated",
		slog.String("question_id", questionID),
		slog.String("direction", string(dir)),
	)
}

func (o *LoggingObserver) OnValidationFailed(ctx context.Context, questionID string, message string) {
	o.Logger.InfoContext(ctx, "validation_failed",
		slog.String("question_id", questionID),
		slog.String("message", message),
	)
}

// BasicMetrics collects simple counters and aggregate save durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	sessionsStarted    atomic.Int64
	sessionsRestored   atomic.Int64
	savesSucceeded     atomic.Int64
	savesFailed        atomic.Int64
	totalSaveDuration  atomic.Int64 // nanoseconds
	autoAdvances       atomic.Int64
	autoAdvancesCancel atomic.Int64
	validationFailures atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SessionsStarted  int64
	SessionsRestored int64

	SavesSucceeded  int64
	SavesFailed     int64
	AvgSaveDuration time.Duration

	AutoAdvancesScheduled int64
	AutoAdvancesCancelled int64
	ValidationFailures    int64
}

func (m *BasicMetrics) OnSessionStarted(ctx context.Context, s *Session) {
	m.sessionsStarted.Add(1)
}

func (m *BasicMetrics) OnSessionRestored(ctx context.Context, s *Session) {
	m.sessionsRestored.Add(1)
}

func (m *BasicMetrics) OnSaveCompleted(ctx context.Context, s *Session, auto bool, err error, d time.Duration) {
	// Only successful saves count toward the average duration.
	if err != nil {
		m.savesFailed.Add(1)
		return
	}
	m.savesSucceeded.Add(1)
	m.totalSaveDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnAutoAdvanceScheduled(ctx context.Context, questionID string, delay time.Duration) {
	m.autoAdvances.Add(1)
}

func (m *BasicMetrics) OnAutoAdvanceCancelled(ctx context.Context, questionID string) {
	m.autoAdvancesCancel.Add(1)
}

func (m *BasicMetrics) OnValidationFailed(ctx context.Context, questionID string, message string) {
	m.validationFailures.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	ok := m.savesSucceeded.Load()
	totalNs := m.totalSaveDuration.Load()

	var avg time.Duration
	if ok > 0 {
		avg = time.Duration(totalNs / ok)
	}

	return BasicMetricsSnapshot{
		SessionsStarted:       m.sessionsStarted.Load(),
		SessionsRestored:      m.sessionsRestored.Load(),
		SavesSucceeded:        ok,
		SavesFailed:           m.savesFailed.Load(),
		AvgSaveDuration:       avg,
		AutoAdvancesScheduled: m.autoAdvances.Load(),
		AutoAdvancesCancelled: m.autoAdvancesCancel.Load(),
		ValidationFailures:    m.validationFailures.Load(),
	}
}
