// Package navigation decides, for the question on screen, when a response
// moves the user forward.
//
// A Navigator holds the current question and the latest response in a single
// cell that every check reads after it has been written. Accepting a response
// may schedule a delayed auto-advance, which runs as a cancellable tick loop
// reporting progress and then performs the same validated step as an explicit
// HandleNext.
package navigation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/petrijr/questflow/internal/cancel"
	"github.com/petrijr/questflow/pkg/api"
	"github.com/petrijr/questflow/pkg/validation"
)

// TickInterval is the resolution of the auto-advance progress loop.
const TickInterval = 100 * time.Millisecond

// Callbacks are the caller's hooks. OnNext, OnPrevious, OnValidationError and
// OnProgress are expected; the rest are optional. They are never invoked
// while the navigator's lock is held, so they may call back into it.
type Callbacks struct {
	OnNext               func()
	OnPrevious           func()
	OnValidationError    func(message string)
	OnProgress           func(percent float64)
	OnNavigationStart    func()
	OnNavigationComplete func()
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithClock sets the clock driving the tick loop.
func WithClock(c clockwork.Clock) Option {
	return func(n *Navigator) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithObserver sets the observer notified of navigation events.
func WithObserver(o api.Observer) Option {
	return func(n *Navigator) {
		if o != nil {
			n.observer = o
		}
	}
}

// WithContext sets the parent context of scheduled auto-advances. When it is
// done, pending advances are cancelled.
func WithContext(ctx context.Context) Option {
	return func(n *Navigator) {
		if ctx != nil {
			n.ctx = ctx
		}
	}
}

// Navigator is the per-flow navigation state machine.
type Navigator struct {
	cfg      api.NavigationConfig
	cb       Callbacks
	clock    clockwork.Clock
	logger   *slog.Logger
	observer api.Observer
	ctx      context.Context

	ops cancel.Group

	mu          sync.Mutex
	question    api.Question
	value       api.Value
	hasPrevious bool
	navigating  bool
	closed      bool

	pending    *cancel.Operation[struct{}]
	pendingGen uint64
}

// New creates a Navigator. cfg is copied.
func New(cfg api.NavigationConfig, cb Callbacks, opts ...Option) *Navigator {
	n := &Navigator{
		cfg:         cfg.Clone(),
		cb:          cb,
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
		observer:    api.NoopObserver{},
		ctx:         context.Background(),
		hasPrevious: true,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Config returns the navigator's configuration.
func (n *Navigator) Config() api.NavigationConfig {
	return n.cfg.Clone()
}

// SetQuestion moves the navigator to q with value as the current response
// (api.Null() when unanswered). Any pending auto-advance is cancelled.
func (n *Navigator) SetQuestion(q api.Question, value api.Value) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	prev := n.question.ID
	pending := n.takePendingLocked()
	n.question = q
	n.value = value
	n.mu.Unlock()

	n.cancelPending(pending, prev)
}

// SetHasPrevious tells the navigator whether a previous question exists.
func (n *Navigator) SetHasPrevious(ok bool) {
	n.mu.Lock()
	n.hasPrevious = ok
	n.mu.Unlock()
}

// Value returns the current response.
func (n *Navigator) Value() api.Value {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// HandleResponse records value as the current response and, unless
// skipAutoAdvance is set, schedules an auto-advance when the question is
// eligible and the value passes validation. An eligible value that fails
// validation is rejected: the first message goes to OnValidationError and
// nothing is scheduled. It returns false and changes nothing while a
// navigation is in progress or after Close.
func (n *Navigator) HandleResponse(value api.Value, skipAutoAdvance bool) bool {
	return n.HandleResponseTo("", value, skipAutoAdvance)
}

// HandleResponseTo is HandleResponse for a response meant for questionID. It
// returns false and changes nothing when the navigator has already moved to
// another question. An empty questionID matches any question.
func (n *Navigator) HandleResponseTo(questionID string, value api.Value, skipAutoAdvance bool) bool {
	n.mu.Lock()
	if n.closed || n.navigating {
		n.mu.Unlock()
		return false
	}
	if questionID != "" && questionID != n.question.ID {
		n.mu.Unlock()
		n.logger.DebugContext(n.ctx, "response_for_previous_question",
			slog.String("question_id", questionID),
			slog.String("current_id", n.question.ID),
		)
		return false
	}
	n.value = value
	q := n.question
	pending := n.takePendingLocked()

	var (
		delay    time.Duration
		rejected string
	)
	schedule := !skipAutoAdvance && ShouldAutoAdvance(n.cfg, q, n.value)
	if schedule {
		if rejected = n.check(q, n.value); rejected != "" {
			schedule = false
		}
	}
	if schedule {
		delay = n.cfg.AutoAdvanceDelay
		n.pendingGen++
		gen := n.pendingGen
		n.pending = cancel.Go(&n.ops, n.ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, n.runAutoAdvance(ctx, gen, q.ID, delay)
		})
	}
	n.mu.Unlock()

	n.cancelPending(pending, q.ID)
	switch {
	case schedule:
		n.observer.OnAutoAdvanceScheduled(n.ctx, q.ID, delay)
	case rejected != "":
		n.reject(n.ctx, q.ID, rejected)
	}
	return true
}

func (n *Navigator) reject(ctx context.Context, questionID, msg string) {
	n.observer.OnValidationFailed(ctx, questionID, msg)
	if n.cb.OnValidationError != nil {
		n.cb.OnValidationError(msg)
	}
}

// ShouldAutoAdvance reports whether the navigator would schedule an
// auto-advance for the current question and response.
func (n *Navigator) ShouldAutoAdvance() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.willAutoAdvanceLocked()
}

func (n *Navigator) willAutoAdvanceLocked() bool {
	return ShouldAutoAdvance(n.cfg, n.question, n.value) && n.check(n.question, n.value) == ""
}

// ShouldAutoAdvance applies the auto-advance rules in order. It does not
// validate v; the navigator also requires the value to pass validation.
//
//  1. auto-advance is enabled and the type is listed, except that a
//     validated instrument is eligible only when it is a scale;
//  2. the response is not empty for the type;
//  3. with RequireConfirmation, required questions are never eligible;
//  4. high-risk questions are never eligible.
func ShouldAutoAdvance(cfg api.NavigationConfig, q api.Question, v api.Value) bool {
	if !cfg.AutoAdvance {
		return false
	}
	eligibleType := cfg.AutoAdvancesType(q.Type)
	if q.Metadata.ValidatedTool != "" {
		eligibleType = q.Type == api.TypeScale
	}
	if !eligibleType {
		return false
	}
	if validation.IsEmpty(q.Type, v) {
		return false
	}
	if cfg.RequireConfirmation && q.Required {
		return false
	}
	return !q.IsHighRisk()
}

// runAutoAdvance is the body of a scheduled advance. It reports progress
// every tick, strictly increasing and ending at 100, then advances unless it
// was superseded in the meantime.
func (n *Navigator) runAutoAdvance(ctx context.Context, gen uint64, questionID string, delay time.Duration) error {
	if delay <= 0 {
		if !n.emitProgress(gen, 100) {
			return cancel.ErrCancelled
		}
	}
	for elapsed := time.Duration(0); elapsed < delay; {
		step := min(TickInterval, delay-elapsed)
		if err := cancel.Sleep(ctx, n.clock, step); err != nil {
			return err
		}
		elapsed += step
		if !n.emitProgress(gen, float64(elapsed)/float64(delay)*100) {
			return cancel.ErrCancelled
		}
	}

	n.mu.Lock()
	if n.closed || n.pendingGen != gen || n.pending == nil || ctx.Err() != nil || n.navigating {
		n.mu.Unlock()
		return cancel.ErrCancelled
	}
	n.pending = nil
	n.navigating = true
	n.mu.Unlock()

	n.logger.DebugContext(ctx, "auto_advance_fired", slog.String("question_id", questionID))
	n.advance(ctx)
	return nil
}

func (n *Navigator) emitProgress(gen uint64, pct float64) bool {
	n.mu.Lock()
	current := !n.closed && n.pendingGen == gen && n.pending != nil
	n.mu.Unlock()
	if !current {
		return false
	}
	if n.cb.OnProgress != nil {
		n.cb.OnProgress(pct)
	}
	return true
}

func (n *Navigator) takePendingLocked() *cancel.Operation[struct{}] {
	op := n.pending
	n.pending = nil
	return op
}

func (n *Navigator) cancelPending(op *cancel.Operation[struct{}], questionID string) {
	if op == nil {
		return
	}
	select {
	case <-op.Done():
		return
	default:
	}
	op.Cancel()
	n.observer.OnAutoAdvanceCancelled(n.ctx, questionID)
}

// HandleNext validates the current response and, when it passes, moves
// forward: OnNavigationStart, OnNext, then OnNavigationComplete. On failure
// it reports the first message through OnValidationError. It returns whether
// the navigator moved. A call made while another navigation is running is
// ignored.
func (n *Navigator) HandleNext() bool {
	n.mu.Lock()
	if n.closed || n.navigating {
		n.mu.Unlock()
		return false
	}
	n.navigating = true
	pending := n.takePendingLocked()
	qid := n.question.ID
	n.mu.Unlock()

	n.cancelPending(pending, qid)
	return n.advance(n.ctx)
}

// advance runs with navigating already set and clears it on return.
func (n *Navigator) advance(ctx context.Context) bool {
	defer func() {
		n.mu.Lock()
		n.navigating = false
		n.mu.Unlock()
	}()

	n.mu.Lock()
	q, v := n.question, n.value
	n.mu.Unlock()

	if msg := n.check(q, v); msg != "" {
		n.reject(ctx, q.ID, msg)
		return false
	}

	if n.cb.OnNavigationStart != nil {
		n.cb.OnNavigationStart()
	}
	if n.cb.OnNext != nil {
		n.cb.OnNext()
	}
	n.observer.OnNavigated(ctx, q.ID, api.DirectionNext)
	if n.cb.OnNavigationComplete != nil {
		n.cb.OnNavigationComplete()
	}
	return true
}

func (n *Navigator) check(q api.Question, v api.Value) string {
	if n.cfg.SkipValidationForOptional && !q.Required {
		return ""
	}
	return validation.Validate(q, v)
}

// HandlePrevious cancels the pending auto-advance and every other in-flight
// operation, then calls OnPrevious. Going back is never validated.
func (n *Navigator) HandlePrevious() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	pending := n.takePendingLocked()
	qid := n.question.ID
	n.mu.Unlock()

	n.cancelPending(pending, qid)
	n.ops.CancelAll()

	if n.cb.OnPrevious != nil {
		n.cb.OnPrevious()
	}
	n.observer.OnNavigated(n.ctx, qid, api.DirectionPrevious)
}

// State returns a read-only projection for the UI. It uses the same rules
// as HandleResponse and HandleNext.
func (n *Navigator) State() api.NavigationState {
	n.mu.Lock()
	defer n.mu.Unlock()

	q, v := n.question, n.value
	return api.NavigationState{
		IsNavigating:          n.navigating,
		WillAutoAdvance:       n.willAutoAdvanceLocked(),
		HasPendingAutoAdvance: n.pending != nil,
		CanNavigateNext:       !n.navigating && n.check(q, v) == "",
		CanNavigatePrevious:   !n.navigating && n.hasPrevious,
		HasResponse:           !validation.IsEmpty(q.Type, v),
		IsHighRisk:            q.IsHighRisk(),
	}
}

// Close cancels everything the navigator started. Later calls to any method
// do nothing.
func (n *Navigator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.pending = nil
	n.mu.Unlock()

	n.ops.Close()
}
