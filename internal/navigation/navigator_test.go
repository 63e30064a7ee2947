package navigation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/questflow/pkg/api"
	"github.com/petrijr/questflow/pkg/validation"
)

type recorder struct {
	mu       sync.Mutex
	next     int
	previous int
	errors   []string
	progress []float64
	started  int
	complete int
	nextCh   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{nextCh: make(chan struct{}, 8)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnNext: func() {
			r.mu.Lock()
			r.next++
			r.mu.Unlock()
			r.nextCh <- struct{}{}
		},
		OnPrevious: func() {
			r.mu.Lock()
			r.previous++
			r.mu.Unlock()
		},
		OnValidationError: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
		},
		OnProgress: func(p float64) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
		},
		OnNavigationStart: func() {
			r.mu.Lock()
			r.started++
			r.mu.Unlock()
		},
		OnNavigationComplete: func() {
			r.mu.Lock()
			r.complete++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (next, previous int, errs []string, progress []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next, r.previous, append([]string(nil), r.errors...), append([]float64(nil), r.progress...)
}

func scaleConfig() api.NavigationConfig {
	return api.NavigationConfig{
		AutoAdvance:      true,
		AutoAdvanceTypes: []api.QuestionType{api.TypeScale},
		AutoAdvanceDelay: 1800 * time.Millisecond,
	}
}

// tick advances the fake clock one tick at a time, waiting for the loop to
// arm its timer before each step.
func tick(t *testing.T, ctx context.Context, clock *clockwork.FakeClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(TickInterval)
	}
}

func TestState_FalsyValuesCountAsResponses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		typ  api.QuestionType
		val  api.Value
	}{
		{"select zero", api.TypeSelect, api.Number(0)},
		{"scale zero", api.TypeScale, api.Number(0)},
		{"boolean false", api.TypeBoolean, api.Bool(false)},
		{"number zero", api.TypeNumber, api.Number(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := New(api.NavigationConfig{}, Callbacks{})
			defer n.Close()
			n.SetQuestion(api.Question{ID: "q", Type: tc.typ, Required: true}, api.Null())
			require.False(t, n.State().HasResponse)

			require.True(t, n.HandleResponse(tc.val, true))
			st := n.State()
			require.True(t, st.HasResponse)
			require.True(t, st.CanNavigateNext)
		})
	}
}

func TestAutoAdvance_FiresOnceWithIncreasingProgress(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	metrics := &api.BasicMetrics{}
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock), WithObserver(metrics))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "pain", Type: api.TypeScale}, api.Null())
	require.True(t, n.HandleResponse(api.Number(4), false))
	require.True(t, n.State().HasPendingAutoAdvance)

	tick(t, ctx, clock, 18)

	select {
	case <-rec.nextCh:
	case <-ctx.Done():
		t.Fatal("OnNext did not fire")
	}

	next, _, errs, progress := rec.snapshot()
	require.Equal(t, 1, next)
	require.Empty(t, errs)
	require.Len(t, progress, 18)
	for i := 1; i < len(progress); i++ {
		require.Greater(t, progress[i], progress[i-1])
	}
	require.Equal(t, 100.0, progress[len(progress)-1])

	// Nothing else is scheduled.
	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	next, _, _, _ = rec.snapshot()
	require.Equal(t, 1, next)
	require.False(t, n.State().HasPendingAutoAdvance)
	require.EqualValues(t, 1, metrics.Snapshot().AutoAdvancesScheduled)
}

func TestAutoAdvance_UnevenDelayEndsAtHundred(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	cfg := scaleConfig()
	cfg.AutoAdvanceDelay = 250 * time.Millisecond
	n := New(cfg, rec.callbacks(), WithClock(clock))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "q", Type: api.TypeScale}, api.Null())
	n.HandleResponse(api.Number(1), false)

	tick(t, ctx, clock, 3)
	select {
	case <-rec.nextCh:
	case <-ctx.Done():
		t.Fatal("OnNext did not fire")
	}

	_, _, _, progress := rec.snapshot()
	require.Equal(t, []float64{40, 80, 100}, progress)
}

func TestHandlePrevious_CancelsRunningAutoAdvance(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	metrics := &api.BasicMetrics{}
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock), WithObserver(metrics))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "pain", Type: api.TypeScale}, api.Null())
	n.HandleResponse(api.Number(7), false)
	tick(t, ctx, clock, 5)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	n.HandlePrevious()

	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	next, previous, _, progress := rec.snapshot()
	require.Zero(t, next)
	require.Equal(t, 1, previous)
	require.Len(t, progress, 5)
	require.False(t, n.State().HasPendingAutoAdvance)
	require.EqualValues(t, 1, metrics.Snapshot().AutoAdvancesCancelled)
}

func TestHandleResponse_NewValueRestartsTheDelay(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "pain", Type: api.TypeScale}, api.Null())
	n.HandleResponse(api.Number(2), false)
	tick(t, ctx, clock, 10)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	n.HandleResponse(api.Number(3), false)
	// Wait for the superseded loop to exit so only the new timer is armed.
	require.Eventually(t, func() bool { return n.ops.Len() == 1 }, time.Second, time.Millisecond)
	tick(t, ctx, clock, 18)
	select {
	case <-rec.nextCh:
	case <-ctx.Done():
		t.Fatal("OnNext did not fire")
	}

	time.Sleep(20 * time.Millisecond)
	next, _, _, progress := rec.snapshot()
	require.Equal(t, 1, next)
	require.Len(t, progress, 28)
	require.Equal(t, 100.0, progress[len(progress)-1])
	require.True(t, n.Value().Equal(api.Number(3)))
}

func TestHandleResponse_SkipAutoAdvance(t *testing.T) {
	t.Parallel()

	n := New(scaleConfig(), Callbacks{})
	defer n.Close()
	n.SetQuestion(api.Question{ID: "pain", Type: api.TypeScale}, api.Null())

	require.True(t, n.HandleResponse(api.Number(5), true))
	st := n.State()
	require.True(t, st.WillAutoAdvance)
	require.False(t, st.HasPendingAutoAdvance)
}

func TestHandleResponse_InvalidValueIsRejectedNotScheduled(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	metrics := &api.BasicMetrics{}
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock), WithObserver(metrics))
	defer n.Close()

	q := api.Question{ID: "pain", Type: api.TypeScale, Validation: api.Validation{Max: api.Ptr(5.0)}}
	n.SetQuestion(q, api.Null())
	require.True(t, n.HandleResponse(api.Number(9), false))

	st := n.State()
	require.True(t, st.HasResponse)
	require.False(t, st.WillAutoAdvance)
	require.False(t, st.HasPendingAutoAdvance)
	require.False(t, st.CanNavigateNext)
	require.False(t, n.ShouldAutoAdvance())
	require.Zero(t, n.ops.Len())

	next, _, errs, progress := rec.snapshot()
	require.Zero(t, next)
	require.Equal(t, []string{"Value must be at most 5"}, errs)
	require.Empty(t, progress)
	require.EqualValues(t, 0, metrics.Snapshot().AutoAdvancesScheduled)
	require.EqualValues(t, 1, metrics.Snapshot().ValidationFailures)

	// A corrected value is scheduled as usual.
	require.True(t, n.HandleResponse(api.Number(4), false))
	st = n.State()
	require.True(t, st.WillAutoAdvance)
	require.True(t, st.HasPendingAutoAdvance)
	require.True(t, st.CanNavigateNext)
}

func TestHandleResponse_RecordOnlyDoesNotReportErrors(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	n := New(scaleConfig(), rec.callbacks())
	defer n.Close()

	q := api.Question{ID: "pain", Type: api.TypeScale, Validation: api.Validation{Max: api.Ptr(5.0)}}
	n.SetQuestion(q, api.Null())
	require.True(t, n.HandleResponse(api.Number(9), true))

	_, _, errs, _ := rec.snapshot()
	require.Empty(t, errs)
	require.True(t, n.Value().Equal(api.Number(9)))
}

func TestHandleResponseTo_RejectsOtherQuestion(t *testing.T) {
	t.Parallel()

	n := New(scaleConfig(), Callbacks{})
	defer n.Close()

	n.SetQuestion(api.Question{ID: "b", Type: api.TypeScale}, api.Null())
	require.False(t, n.HandleResponseTo("a", api.Number(3), false))
	require.True(t, n.Value().IsNull())
	require.False(t, n.State().HasPendingAutoAdvance)

	require.True(t, n.HandleResponseTo("b", api.Number(3), false))
	require.True(t, n.State().HasPendingAutoAdvance)
}

func TestHandleNext_RequiredSelectAcceptsZero(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	n := New(api.MustPreset(api.PresetConservative), rec.callbacks())
	defer n.Close()

	n.SetQuestion(api.Question{ID: "q", Type: api.TypeSelect, Required: true}, api.Null())
	n.HandleResponse(api.Number(0), false)

	require.True(t, n.HandleNext())
	next, _, errs, _ := rec.snapshot()
	require.Equal(t, 1, next)
	require.Empty(t, errs)
	require.Equal(t, 1, rec.started)
	require.Equal(t, 1, rec.complete)
}

func TestHandleNext_RequiredMultiselect(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	metrics := &api.BasicMetrics{}
	n := New(api.MustPreset(api.PresetStandard), rec.callbacks(), WithObserver(metrics))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "symptoms", Type: api.TypeMultiselect, Required: true}, api.Null())
	n.HandleResponse(api.Strings(), false)
	require.False(t, n.HandleNext())

	next, _, errs, _ := rec.snapshot()
	require.Zero(t, next)
	require.Equal(t, []string{validation.MsgSelectAtLeastOne}, errs)
	require.Zero(t, rec.started)
	require.False(t, n.State().CanNavigateNext)

	n.HandleResponse(api.Strings("fever"), false)
	require.True(t, n.State().CanNavigateNext)
	require.True(t, n.HandleNext())

	next, _, _, _ = rec.snapshot()
	require.Equal(t, 1, next)
	require.EqualValues(t, 1, metrics.Snapshot().ValidationFailures)
}

func TestHandleNext_ValidatesLatestValue(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	n := New(api.MustPreset(api.PresetConservative), rec.callbacks())
	defer n.Close()

	q := api.Question{
		ID: "age", Type: api.TypeNumber, Required: true,
		Validation: api.Validation{Min: api.Ptr(18.0)},
	}
	n.SetQuestion(q, api.Number(10))
	n.HandleResponse(api.Number(42), false)

	require.True(t, n.HandleNext())
	_, _, errs, _ := rec.snapshot()
	require.Empty(t, errs)
}

func TestHandleNext_SkipValidationForOptional(t *testing.T) {
	t.Parallel()

	q := api.Question{ID: "bio", Type: api.TypeText, Validation: api.Validation{MinLength: api.Ptr(10)}}

	strict := New(api.NavigationConfig{}, Callbacks{})
	defer strict.Close()
	strict.SetQuestion(q, api.String("short"))
	require.False(t, strict.HandleNext())

	lenient := New(api.NavigationConfig{SkipValidationForOptional: true}, Callbacks{})
	defer lenient.Close()
	lenient.SetQuestion(q, api.String("short"))
	require.True(t, lenient.HandleNext())
}

func TestReentrancy_IgnoredDuringNavigation(t *testing.T) {
	t.Parallel()

	var (
		n            *Navigator
		nestedNext   bool
		nestedResp   bool
		stateDuring  api.NavigationState
		nextRequests int
	)
	n = New(api.NavigationConfig{}, Callbacks{
		OnNext: func() {
			nextRequests++
			nestedNext = n.HandleNext()
			nestedResp = n.HandleResponse(api.String("late"), false)
			stateDuring = n.State()
		},
	})
	defer n.Close()

	n.SetQuestion(api.Question{ID: "q", Type: api.TypeText}, api.String("x"))
	require.True(t, n.HandleNext())

	require.Equal(t, 1, nextRequests)
	require.False(t, nestedNext)
	require.False(t, nestedResp)
	require.True(t, stateDuring.IsNavigating)
	require.False(t, stateDuring.CanNavigateNext)
	require.False(t, stateDuring.CanNavigatePrevious)
	require.True(t, n.Value().Equal(api.String("x")))
	require.False(t, n.State().IsNavigating)
}

func TestShouldAutoAdvance_Rules(t *testing.T) {
	t.Parallel()

	std := api.MustPreset(api.PresetStandard)
	confirm := std.Clone()
	confirm.RequireConfirmation = true
	off := std.Clone()
	off.AutoAdvance = false
	scaleOnly := scaleConfig()

	cases := []struct {
		name string
		cfg  api.NavigationConfig
		q    api.Question
		v    api.Value
		want bool
	}{
		{"eligible select", std, api.Question{Type: api.TypeSelect}, api.Number(0), true},
		{"boolean false", std, api.Question{Type: api.TypeBoolean}, api.Bool(false), true},
		{"disabled globally", off, api.Question{Type: api.TypeSelect}, api.Number(1), false},
		{"type not listed", std, api.Question{Type: api.TypeText}, api.String("x"), false},
		{"empty value", std, api.Question{Type: api.TypeSelect}, api.Null(), false},
		{"confirmation required", confirm, api.Question{Type: api.TypeSelect, Required: true}, api.Number(1), false},
		{"confirmation optional", confirm, api.Question{Type: api.TypeSelect}, api.Number(1), true},
		{"high risk", std, api.Question{Type: api.TypeScale, RiskWeight: api.Ptr(api.HighRiskWeight)}, api.Number(1), false},
		{"low risk", std, api.Question{Type: api.TypeScale, RiskWeight: api.Ptr(3)}, api.Number(1), true},
		{
			"validated tool blocks select", std,
			api.Question{Type: api.TypeSelect, Metadata: api.QuestionMetadata{ValidatedTool: "PHQ-9"}},
			api.Number(1), false,
		},
		{
			"validated tool scale overrides type list", api.NavigationConfig{AutoAdvance: true},
			api.Question{Type: api.TypeScale, Metadata: api.QuestionMetadata{ValidatedTool: "GAD-7"}},
			api.Number(2), true,
		},
		{
			"validated tool still needs the global flag", off,
			api.Question{Type: api.TypeScale, Metadata: api.QuestionMetadata{ValidatedTool: "GAD-7"}},
			api.Number(2), false,
		},
		{"scale only config", scaleOnly, api.Question{Type: api.TypeBoolean}, api.Bool(true), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ShouldAutoAdvance(tc.cfg, tc.q, tc.v))
		})
	}
}

func TestState_Projection(t *testing.T) {
	t.Parallel()

	n := New(api.MustPreset(api.PresetHealth), Callbacks{})
	defer n.Close()

	q := api.Question{ID: "suicidal", Type: api.TypeBoolean, Required: true, RiskWeight: api.Ptr(10)}
	n.SetQuestion(q, api.Null())
	n.SetHasPrevious(false)

	st := n.State()
	require.False(t, st.HasResponse)
	require.False(t, st.CanNavigateNext)
	require.False(t, st.CanNavigatePrevious)
	require.True(t, st.IsHighRisk)
	require.False(t, st.WillAutoAdvance)

	n.HandleResponse(api.Bool(false), false)
	st = n.State()
	require.True(t, st.HasResponse)
	require.True(t, st.CanNavigateNext)
	require.False(t, st.WillAutoAdvance, "high-risk questions need an explicit step")
	require.False(t, st.HasPendingAutoAdvance)
}

func TestSetQuestion_CancelsPendingAdvance(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "a", Type: api.TypeScale}, api.Null())
	n.HandleResponse(api.Number(1), false)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	n.SetQuestion(api.Question{ID: "b", Type: api.TypeScale}, api.Null())
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	next, _, _, _ := rec.snapshot()
	require.Zero(t, next)
	require.False(t, n.State().HasResponse)
}

func TestClose_StopsEverything(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock))

	n.SetQuestion(api.Question{ID: "a", Type: api.TypeScale}, api.Null())
	n.HandleResponse(api.Number(1), false)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	n.Close()
	n.Close()
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	require.False(t, n.HandleResponse(api.Number(2), false))
	require.False(t, n.HandleNext())
	n.HandlePrevious()

	next, previous, _, _ := rec.snapshot()
	require.Zero(t, next)
	require.Zero(t, previous)
}

func TestWithContext_CancelsPendingAdvance(t *testing.T) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	parent, stop := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	n := New(scaleConfig(), rec.callbacks(), WithClock(clock), WithContext(parent))
	defer n.Close()

	n.SetQuestion(api.Question{ID: "a", Type: api.TypeScale}, api.Null())
	n.HandleResponse(api.Number(1), false)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	stop()
	require.NoError(t, clock.BlockUntilContext(ctx, 0))
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	next, _, _, _ := rec.snapshot()
	require.Zero(t, next)
}
