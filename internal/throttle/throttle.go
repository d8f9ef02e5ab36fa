// Package throttle gatekeeps every outbound provider call against two
// shared budgets: a steady-state call rate and the provider-reported
// error budget (calls remaining before lockout, with a reset deadline).
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"golang.org/x/time/rate"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// Budget is the provider's error-budget signal, reported on every
// response: how many more errored calls are tolerated before lockout,
// and when the counter resets.
type Budget struct {
	Remain  int       `json:"remain"`
	ResetAt time.Time `json:"reset_at"`
}

func (b Budget) Expired(now time.Time) bool {
	return !b.ResetAt.After(now)
}

// BudgetStore shares the most recently observed Budget across attempts,
// and across processes when backed by Redis.
type BudgetStore interface {
	Get(ctx context.Context) (Budget, bool, error)
	Set(ctx context.Context, b Budget) error
}

// Throttle paces calls per endpoint category through a token-bucket
// limiter and stretches that pacing as the shared error budget shrinks.
// All concurrently running attempts funnel through one Throttle.
type Throttle struct {
	clock  quartz.Clock
	log    slog.Logger
	budget BudgetStore

	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[model.Endpoint]*rate.Limiter
}

func New(callsPerSecond float64, budget BudgetStore, clock quartz.Clock, log slog.Logger) *Throttle {
	return &Throttle{
		clock:    clock,
		log:      log.Named("throttle"),
		budget:   budget,
		limit:    rate.Limit(callsPerSecond),
		burst:    1,
		limiters: make(map[model.Endpoint]*rate.Limiter),
	}
}

// Wait blocks until the caller may issue the next call for the given
// endpoint category. The steady-state limiter spreads calls evenly up
// to the configured rate; a shrinking error budget adds a penalty delay
// on top, sized so the remaining budget lasts until the reset deadline.
func (t *Throttle) Wait(ctx context.Context, ep model.Endpoint) error {
	if err := t.limiter(ep).Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}

	delay, err := t.penalty(ctx)
	if err != nil {
		// A budget store failure must not block provider traffic; pace on
		// the steady-state limiter alone.
		t.log.Warn(ctx, "error budget unavailable", slog.Error(err))
		return nil
	}
	if delay <= 0 {
		return nil
	}

	t.log.Debug(ctx, "error budget low, stretching pace",
		slog.F("endpoint", ep),
		slog.F("delay", delay),
	)
	timer := t.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe records the error budget reported by a provider response.
// It is called after every call, errored or not; the budget relaxes on
// its own once the reset deadline passes.
func (t *Throttle) Observe(ctx context.Context, b Budget) {
	if b.ResetAt.IsZero() {
		return
	}
	if err := t.budget.Set(ctx, b); err != nil {
		t.log.Warn(ctx, "failed to record error budget", slog.Error(err))
	}
}

// penalty sizes the extra delay before the next call: zero while the
// budget is healthy or past its reset, otherwise the remaining window
// divided across the remaining budget. A fully exhausted budget waits
// out the window.
func (t *Throttle) penalty(ctx context.Context) (time.Duration, error) {
	b, ok, err := t.budget.Get(ctx)
	if err != nil {
		return 0, err
	}
	now := t.clock.Now()
	if !ok || b.Expired(now) {
		return 0, nil
	}
	window := b.ResetAt.Sub(now)
	if b.Remain <= 0 {
		return window, nil
	}
	if b.Remain > penaltyThreshold {
		return 0, nil
	}
	return window / time.Duration(b.Remain), nil
}

// penaltyThreshold is the remaining-budget level below which pacing
// begins to stretch.
const penaltyThreshold = 25

func (t *Throttle) limiter(ep model.Endpoint) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[ep]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[ep] = l
	}
	return l
}
