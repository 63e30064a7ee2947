// Package cancel provides cancellable asynchronous operations.
//
// An Operation runs a function on its own goroutine with a context that is
// cancelled when the operation is cancelled or its timeout fires. A Group
// tracks live operations so that a component can cancel everything it
// started when it is torn down.
package cancel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrCancelled is the result of an operation cancelled by its owner.
	ErrCancelled = errors.New("operation cancelled")

	// ErrTimeout is the result of an operation whose timeout fired first.
	ErrTimeout = errors.New("operation timed out")
)

// IsCancellation reports whether err stems from cancellation, including
// timeouts and context cancellation. Such errors are never shown to users.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Func is the unit of work of an Operation. It must watch ctx and return
// promptly once ctx is done.
type Func[T any] func(ctx context.Context) (T, error)

type options struct {
	timeout time.Duration
	clock   clockwork.Clock
}

// Option configures Run.
type Option func(*options)

// WithTimeout cancels the operation with ErrTimeout if it has not finished
// after d. Non-positive durations disable the timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock sets the clock used for the timeout timer.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// Operation is a running, cancellable unit of work.
type Operation[T any] struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	// mu orders cancellation against completion: once finished is set,
	// cancelWith does nothing, and a set cancelled flag always means the
	// context was cancelled before finished was set.
	mu        sync.Mutex
	cancelled bool
	finished  bool
	timer     clockwork.Timer

	val T
	err error
}

// Run starts fn on a new goroutine and returns immediately.
func Run[T any](parent context.Context, fn Func[T], opts ...Option) *Operation[T] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancelCause(parent)
	op := &Operation[T]{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if o.timeout > 0 {
		op.mu.Lock()
		op.timer = o.clock.AfterFunc(o.timeout, func() {
			op.cancelWith(ErrTimeout)
		})
		op.mu.Unlock()
	}

	go op.run(fn)
	return op
}

func (op *Operation[T]) run(fn Func[T]) {
	defer close(op.done)

	val, err := fn(op.ctx)

	op.mu.Lock()
	op.finished = true
	if op.timer != nil {
		op.timer.Stop()
	}
	// A cancelled operation reports its cause, whatever fn returned.
	if cause := context.Cause(op.ctx); cause != nil && op.ctx.Err() != nil {
		var zero T
		val, err = zero, normalizeCause(cause)
	}
	op.val, op.err = val, err
	op.mu.Unlock()

	op.cancel(nil)
}

func normalizeCause(cause error) error {
	switch {
	case errors.Is(cause, ErrTimeout), errors.Is(cause, ErrCancelled):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrCancelled
	}
}

func (op *Operation[T]) cancelWith(cause error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finished {
		return
	}
	op.cancelled = true
	if op.timer != nil {
		op.timer.Stop()
	}
	op.cancel(cause)
}

// Cancel aborts the operation. It is idempotent and a no-op once the
// operation has finished.
func (op *Operation[T]) Cancel() {
	op.cancelWith(ErrCancelled)
}

// IsCancelled reports whether Cancel was called or the timeout fired
// before the operation finished.
func (op *Operation[T]) IsCancelled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.cancelled
}

// Context returns the signal handed to the operation's function.
func (op *Operation[T]) Context() context.Context { return op.ctx }

// Done is closed when the operation's function has returned.
func (op *Operation[T]) Done() <-chan struct{} { return op.done }

// Wait blocks until the operation finishes and returns its result.
func (op *Operation[T]) Wait() (T, error) {
	<-op.done
	return op.val, op.err
}

// WaitContext is like Wait but gives up when ctx is done.
func (op *Operation[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-op.done:
		return op.val, op.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// canceller is the type-erased view of an Operation used by Group.
type canceller interface {
	Cancel()
	Done() <-chan struct{}
}

// Group tracks live operations so they can be cancelled together.
// The zero value is ready to use.
type Group struct {
	mu     sync.Mutex
	ops    map[canceller]struct{}
	closed bool
}

func (g *Group) add(c canceller) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	if g.ops == nil {
		g.ops = make(map[canceller]struct{})
	}
	g.ops[c] = struct{}{}
	return true
}

func (g *Group) remove(c canceller) {
	g.mu.Lock()
	delete(g.ops, c)
	g.mu.Unlock()
}

// Go starts fn as an operation tracked by g. The operation is removed from
// the group when it finishes. If g has been closed the operation is
// cancelled immediately.
func Go[T any](g *Group, parent context.Context, fn Func[T], opts ...Option) *Operation[T] {
	op := Run(parent, fn, opts...)
	if !g.add(op) {
		op.Cancel()
		return op
	}
	go func() {
		<-op.Done()
		g.remove(op)
	}()
	return op
}

// CancelAll cancels every tracked operation. The group stays usable.
func (g *Group) CancelAll() {
	g.mu.Lock()
	live := make([]canceller, 0, len(g.ops))
	for c := range g.ops {
		live = append(live, c)
	}
	g.mu.Unlock()

	for _, c := range live {
		c.Cancel()
	}
}

// Close cancels every tracked operation and makes later Go calls cancel
// their operation immediately. Close is idempotent.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.CancelAll()
}

// Len returns the number of live tracked operations.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ops)
}

// Sleep waits for d on clock or until ctx is done, whichever comes first.
// It returns ctx's cancellation cause when interrupted.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.Chan():
		return nil
	}
}
