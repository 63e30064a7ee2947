package questflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/petrijr/questflow/internal/diag"
	"github.com/petrijr/questflow/internal/navigation"
	"github.com/petrijr/questflow/internal/session"
	"github.com/petrijr/questflow/pkg/api"
	"github.com/petrijr/questflow/pkg/validation"
)

// RunnerConfig configures NewRunner. Flow, Storage and UserID are required.
type RunnerConfig struct {
	Flow    FlowDefinition
	Storage Storage

	UserID string
	// SessionID is used when no stored session is resumed. Empty means a
	// generated ID.
	SessionID string

	// Navigation overrides Preset when set.
	Navigation *NavigationConfig
	// Preset names a navigation preset. The default is "health".
	Preset string

	// Mode and Features are recorded in the session metadata. When Features
	// is nil the features enabled at process startup are used.
	Mode     string
	Features []string

	KeyPrefix        string
	AutoSaveInterval time.Duration
	StaleAfter       time.Duration
	Eviction         EvictionPolicy
	Retry            RetryPolicy
	DisableAutoSave  bool

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer

	OnProgress        func(percent float64)
	OnValidationError func(message string)
	OnAutoSave        func(success bool)
	OnRestore         func(s *Session)
	OnComplete        func(s *Session)
}

type position struct {
	section  int
	question int
}

// Runner bundles a session Store and a Navigator over one flow for one user.
//
// Typical usage:
//
//	r, err := questflow.NewRunner(ctx, questflow.RunnerConfig{
//	    Flow:    flow.MustBuild(),
//	    Storage: questflow.NewMemoryStorage(0),
//	    UserID:  "u-42",
//	})
//	defer r.Close()
//
//	q, _ := r.Current()
//	r.Answer(questflow.Number(3))
type Runner struct {
	cfg       RunnerConfig
	flow      FlowDefinition
	positions []position
	questions []Question

	store  *session.Store
	nav    *navigation.Navigator
	clock  clockwork.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	idx       int
	moved     int
	startedAt time.Time
	completed bool
	restored  bool
	closed    bool
}

// NewRunner resumes the user's stored session when one can be resumed,
// otherwise starts a fresh one, and positions the navigator on the current
// question. Auto-save starts unless DisableAutoSave is set.
func NewRunner(ctx context.Context, cfg RunnerConfig) (*Runner, error) {
	if cfg.Storage == nil {
		return nil, errors.New("questflow: storage is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("questflow: user id is required")
	}
	if err := session.CheckUserID(cfg.UserID); err != nil {
		return nil, err
	}
	if cfg.Flow.QuestionCount() == 0 {
		return nil, errors.New("questflow: flow has no questions")
	}

	navCfg, err := cfg.navigationConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	proc := diag.Current()
	if cfg.Features == nil {
		cfg.Features = proc.Features
	}
	if proc.Debug {
		cfg.Observer = api.NewCompositeObserver(cfg.Observer, api.NewLoggingObserver(cfg.Logger))
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Runner{
		cfg:       cfg,
		flow:      cfg.Flow,
		questions: cfg.Flow.Questions(),
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		ctx:       runCtx,
		cancel:    cancel,
		startedAt: cfg.Clock.Now(),
	}
	for si, s := range cfg.Flow.Sections {
		for qi := range s.Questions {
			r.positions = append(r.positions, position{section: si, question: qi})
		}
	}

	store, err := session.New(session.Config{
		Storage:          cfg.Storage,
		UserID:           cfg.UserID,
		KeyPrefix:        cfg.KeyPrefix,
		AutoSaveInterval: cfg.AutoSaveInterval,
		StaleAfter:       cfg.StaleAfter,
		Eviction:         cfg.Eviction,
		Retry:            cfg.Retry,
		Metadata: api.SessionMetadata{
			Version:       cfg.Flow.Version,
			Mode:          cfg.Mode,
			Features:      cfg.Features,
			TotalSections: len(cfg.Flow.Sections),
		},
		Callbacks: session.Callbacks{
			OnAutoSave: cfg.OnAutoSave,
			OnRestoreSession: func(s *api.Session) {
				r.restored = true
				if cfg.OnRestore != nil {
					cfg.OnRestore(s)
				}
			},
		},
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Observer: cfg.Observer,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	r.store = store

	s := store.Initialize(runCtx, cfg.UserID, cfg.SessionID)
	r.idx, r.completed = r.resumeIndex(s)

	r.nav = navigation.New(navCfg, navigation.Callbacks{
		OnNext:            r.onNext,
		OnPrevious:        r.onPrevious,
		OnValidationError: cfg.OnValidationError,
		OnProgress:        cfg.OnProgress,
	},
		navigation.WithClock(cfg.Clock),
		navigation.WithLogger(cfg.Logger),
		navigation.WithObserver(cfg.Observer),
		navigation.WithContext(runCtx),
	)

	r.mu.Lock()
	r.syncNavigatorLocked()
	r.mu.Unlock()

	if !cfg.DisableAutoSave {
		store.StartAutoSave(runCtx)
	}
	return r, nil
}

func (c RunnerConfig) navigationConfig() (NavigationConfig, error) {
	if c.Navigation != nil {
		return c.Navigation.Clone(), nil
	}
	name := c.Preset
	if name == "" {
		name = api.PresetHealth
	}
	return api.Preset(name)
}

// resumeIndex maps the stored section and question indexes onto the flow.
// Indexes that no longer fit the flow restart it from the first question.
func (r *Runner) resumeIndex(s *api.Session) (idx int, completed bool) {
	if s.Progress >= 100 {
		return len(r.positions), true
	}
	for i, p := range r.positions {
		if p.section == s.CurrentSectionIndex && p.question == s.CurrentQuestionIndex {
			return i, false
		}
	}
	return 0, false
}

func (r *Runner) syncNavigatorLocked() {
	if r.completed {
		return
	}
	q := r.questions[r.idx]
	r.nav.SetQuestion(q, r.store.Session().Response(q.ID))
	r.nav.SetHasPrevious(r.idx > 0)
}

func (r *Runner) recordProgressLocked() {
	total := len(r.positions)
	p := r.positions[min(r.idx, total-1)]
	pct := float64(r.idx) / float64(total) * 100

	var eta *time.Duration
	switch {
	case r.completed:
		eta = api.Ptr(time.Duration(0))
	case r.moved > 0:
		per := r.clock.Since(r.startedAt) / time.Duration(r.moved)
		eta = api.Ptr(per * time.Duration(total-r.idx))
	}
	r.store.UpdateProgress(p.section, p.question, pct, eta)
}

func (r *Runner) onNext() {
	r.mu.Lock()
	if r.completed || r.closed {
		r.mu.Unlock()
		return
	}
	r.idx++
	r.moved++
	done := r.idx >= len(r.positions)
	r.completed = done
	r.recordProgressLocked()
	r.syncNavigatorLocked()
	r.mu.Unlock()

	if !done {
		return
	}
	r.store.Save(r.ctx)
	r.logger.InfoContext(r.ctx, "flow_completed",
		slog.String("flow", r.flow.Name),
		slog.String("user_id", r.cfg.UserID),
	)
	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(r.store.Session())
	}
}

func (r *Runner) onPrevious() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	switch {
	case r.completed:
		r.completed = false
		r.idx = len(r.positions) - 1
	case r.idx > 0:
		r.idx--
	default:
		return
	}
	r.recordProgressLocked()
	r.syncNavigatorLocked()
}

// Current returns the question on screen. It returns false once the flow is
// completed.
func (r *Runner) Current() (Question, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return Question{}, false
	}
	return r.questions[r.idx], true
}

// Answer records v for the current question and schedules an auto-advance
// when the question is eligible. It returns false when the answer was not
// accepted: the flow is completed, the runner is closed, a navigation is in
// progress, or an auto-advance moved past the question first.
func (r *Runner) Answer(v Value) bool {
	return r.answer(v, false)
}

// Record is like Answer but never schedules an auto-advance.
func (r *Runner) Record(v Value) bool {
	return r.answer(v, true)
}

func (r *Runner) answer(v Value, skipAutoAdvance bool) bool {
	r.mu.Lock()
	if r.completed || r.closed {
		r.mu.Unlock()
		return false
	}
	q := r.questions[r.idx]
	r.mu.Unlock()

	// Record first so an immediate auto-advance saves this answer.
	prev := r.store.Session().Response(q.ID)
	r.store.UpdateResponse(q.ID, v)
	// The navigator refuses the value if an auto-advance moved it past q
	// since q was read.
	if !r.nav.HandleResponseTo(q.ID, v, skipAutoAdvance) {
		r.store.UpdateResponse(q.ID, prev)
		return false
	}
	return true
}

// Next validates the current answer and moves forward when it passes.
func (r *Runner) Next() bool {
	r.mu.Lock()
	stop := r.completed || r.closed
	r.mu.Unlock()
	if stop {
		return false
	}
	return r.nav.HandleNext()
}

// Previous moves back one question, cancelling any pending auto-advance.
// From a completed flow it returns to the last question.
func (r *Runner) Previous() bool {
	r.mu.Lock()
	ok := !r.closed && (r.completed || r.idx > 0)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.nav.HandlePrevious()
	return true
}

// Position returns the current section and question indexes.
func (r *Runner) Position() (section, question int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.positions[min(r.idx, len(r.positions)-1)]
	return p.section, p.question
}

// Completed reports whether the user moved past the last question.
func (r *Runner) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Restored reports whether the runner resumed a stored session.
func (r *Runner) Restored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restored
}

// Session returns a copy of the in-memory session.
func (r *Runner) Session() *Session {
	return r.store.Session()
}

// State returns the navigator's projection for the current question.
func (r *Runner) State() NavigationState {
	return r.nav.State()
}

// Validate checks every question of the flow against the recorded answers.
// It is meant to run before submitting a completed flow.
func (r *Runner) Validate() []validation.FieldError {
	var responses map[string]Value
	if s := r.store.Session(); s != nil {
		responses = s.Responses
	}
	return validation.ValidateAll(r.questions, responses)
}

// Save persists the session now.
func (r *Runner) Save(ctx context.Context) bool {
	return r.store.Save(ctx)
}

// LastSaveError returns the message of the last failed save, or "".
func (r *Runner) LastSaveError() string {
	return r.store.LastSaveError()
}

// Clear discards the session and its stored copies and closes the runner.
func (r *Runner) Clear(ctx context.Context) {
	r.shutdown()
	r.store.Clear(ctx)
}

// Close stops navigation and auto-save. Unsaved changes are saved first.
func (r *Runner) Close() error {
	r.shutdown()
	if r.store.IsDirty() && !r.store.Save(context.WithoutCancel(r.ctx)) {
		_ = r.store.Close()
		return errors.New("questflow: final save failed: " + r.store.LastSaveError())
	}
	return r.store.Close()
}

func (r *Runner) shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.nav.Close()
	r.store.Stop()
	r.cancel()
}
