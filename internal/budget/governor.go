// Package budget keeps outbound model calls inside provider rate limits.
// It tracks three sliding windows per model (requests/minute,
// tokens/minute, requests/day) and either blocks the caller until
// minute-window capacity frees or fails hard when the daily quota is
// spent.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/deepquery/guardrail/internal/domain"
)

// ModelLimits is the immutable per-model budget.
type ModelLimits struct {
	RPM             int
	TPM             int
	RPD             int
	MaxTokens       int
	MaxOutputTokens int
}

// DefaultLimits applies to models with no configured budget.
var DefaultLimits = ModelLimits{
	RPM:             60,
	TPM:             100000,
	RPD:             10000,
	MaxTokens:       8192,
	MaxOutputTokens: 1024,
}

// Observer receives budget events, typically for metrics. Implementations
// must be safe for concurrent use.
type Observer interface {
	BudgetWait(model string, waited time.Duration)
	QuotaExhausted(model string)
}

const minuteWindow = time.Minute

// wakeCushion pads each sleep so the woken call re-prunes strictly past
// the window boundary instead of racing it.
const wakeCushion = 5 * time.Millisecond

type tokenEntry struct {
	at     time.Time
	tokens int
}

// modelState holds one model's rolling windows. Its mutex spans the
// whole of waitIfNeeded, including sleeps, so concurrent callers for the
// same model observe prune, check, and record as one atomic unit.
type modelState struct {
	mu sync.Mutex

	limits        ModelLimits
	requestMinute []time.Time
	tokenMinute   []tokenEntry
	requestDay    []time.Time
	lastResetDay  string
}

// Governor gates outbound provider calls per model. States are created
// lazily on first use and cached for the process lifetime; the registry
// map has its own lock, separate from the per-model locks.
type Governor struct {
	mu     sync.Mutex
	states map[string]*modelState

	limits   map[string]ModelLimits
	fallback ModelLimits
	loc      *time.Location
	observer Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Governor.
type Option func(*Governor)

// WithTimezone sets the zone used for the daily reset boundary. The
// daily quota is the one calendar-based decision; everything else runs
// on the monotonic clock.
func WithTimezone(loc *time.Location) Option {
	return func(g *Governor) { g.loc = loc }
}

// WithFallbackLimits sets the budget applied to unconfigured models.
func WithFallbackLimits(l ModelLimits) Option {
	return func(g *Governor) { g.fallback = l }
}

// WithObserver registers a budget event observer.
func WithObserver(o Observer) Option {
	return func(g *Governor) { g.observer = o }
}

// New creates a Governor from per-model limits.
func New(limits map[string]ModelLimits, opts ...Option) *Governor {
	g := &Governor{
		states:   make(map[string]*modelState),
		limits:   limits,
		fallback: DefaultLimits,
		loc:      time.UTC,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the budget that applies to model.
func (g *Governor) Limits(model string) ModelLimits {
	if l, ok := g.limits[model]; ok {
		return l
	}
	return g.fallback
}

// Models lists the configured model names.
func (g *Governor) Models() []string {
	names := make([]string, 0, len(g.limits))
	for name := range g.limits {
		names = append(names, name)
	}
	return names
}

// WaitIfNeeded blocks until a call for model carrying estimatedTokens
// fits the model's minute windows, then records the call in all three
// windows and returns the total time spent waiting.
//
// Minute-window pressure is soft: the call sleeps until the oldest entry
// leaves the 60s horizon, interruptibly via ctx. Daily-quota exhaustion
// is hard: it returns a quota-exceeded error naming the model, and no
// usage is recorded. A cancelled ctx likewise records nothing.
func (g *Governor) WaitIfNeeded(ctx context.Context, model string, estimatedTokens int) (time.Duration, error) {
	st := g.state(model)

	st.mu.Lock()
	defer st.mu.Unlock()

	var waited time.Duration
	for {
		now := g.now()
		st.pruneMinuteWindows(now)
		st.resetDaily(now.In(g.loc))

		if st.limits.RPM > 0 && len(st.requestMinute) >= st.limits.RPM {
			d := st.requestMinute[0].Add(minuteWindow).Sub(now) + wakeCushion
			if err := g.sleep(ctx, d); err != nil {
				return waited, err
			}
			waited += d
			continue
		}

		// Waiting only helps if there are recorded tokens to expire; an
		// estimate larger than the whole TPM budget is admitted against
		// an empty window rather than blocked forever.
		if st.limits.TPM > 0 && len(st.tokenMinute) > 0 &&
			st.tokensInWindow()+estimatedTokens > st.limits.TPM {
			d := st.tokenMinute[0].at.Add(minuteWindow).Sub(now) + wakeCushion
			if err := g.sleep(ctx, d); err != nil {
				return waited, err
			}
			waited += d
			continue
		}

		break
	}

	if st.limits.RPD > 0 && len(st.requestDay) >= st.limits.RPD {
		if g.observer != nil {
			g.observer.QuotaExhausted(model)
		}
		return waited, domain.ErrQuotaExceeded(model)
	}

	now := g.now()
	st.requestMinute = append(st.requestMinute, now)
	st.tokenMinute = append(st.tokenMinute, tokenEntry{at: now, tokens: estimatedTokens})
	st.requestDay = append(st.requestDay, now)

	if g.observer != nil && waited > 0 {
		g.observer.BudgetWait(model, waited)
	}
	return waited, nil
}

// Snapshot is a read-only view of one model's usage.
type Snapshot struct {
	Model              string
	RequestsLastMinute int
	TokensLastMinute   int
	RequestsToday      int
	Limits             ModelLimits
}

// Snapshot returns model's current usage after pruning.
func (g *Governor) Snapshot(model string) Snapshot {
	st := g.state(model)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := g.now()
	st.pruneMinuteWindows(now)
	st.resetDaily(now.In(g.loc))

	return Snapshot{
		Model:              model,
		RequestsLastMinute: len(st.requestMinute),
		TokensLastMinute:   st.tokensInWindow(),
		RequestsToday:      len(st.requestDay),
		Limits:             st.limits,
	}
}

// state returns model's usage state, creating it on first use.
func (g *Governor) state(model string) *modelState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[model]
	if !ok {
		st = &modelState{
			limits:       g.Limits(model),
			lastResetDay: g.now().In(g.loc).Format(time.DateOnly),
		}
		g.states[model] = st
	}
	return st
}

func (st *modelState) pruneMinuteWindows(now time.Time) {
	cutoff := now.Add(-minuteWindow)

	i := 0
	for i < len(st.requestMinute) && !st.requestMinute[i].After(cutoff) {
		i++
	}
	st.requestMinute = st.requestMinute[i:]

	j := 0
	for j < len(st.tokenMinute) && !st.tokenMinute[j].at.After(cutoff) {
		j++
	}
	st.tokenMinute = st.tokenMinute[j:]
}

// resetDaily clears the daily window exactly once per calendar-day
// transition in the governor's zone. Idempotent within a day.
func (st *modelState) resetDaily(local time.Time) {
	day := local.Format(time.DateOnly)
	if st.lastResetDay != day {
		st.requestDay = st.requestDay[:0]
		st.lastResetDay = day
	}
}

func (st *modelState) tokensInWindow() int {
	total := 0
	for _, e := range st.tokenMinute {
		total += e.tokens
	}
	return total
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
