package esync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/store"
)

// Outcome is the result of one AttemptSync call.
type Outcome int

const (
	// OutcomeContinue means the pre-check did not pass: another attempt
	// is in flight or the endpoint is not due. The caller should move on
	// to a different unit of work.
	OutcomeContinue Outcome = iota
	// OutcomeDone means the attempt ran to a terminal tracker state and
	// its result was committed.
	OutcomeDone
	// OutcomeError means the result could not be committed (or the store
	// failed mid-attempt); nothing was persisted and the whole attempt
	// should be retried later.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "CONTINUE"
	case OutcomeDone:
		return "DONE"
	case OutcomeError:
		return "ERROR"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Options configures a Synchronizer.
type Options struct {
	// DefaultDelay schedules the next attempt when the provider supplies
	// no expiry signal, and backs off errored attempts.
	DefaultDelay time.Duration
	// StaleAfter is the age past which an unfinished in-flight tracker is
	// reclaimed by the next claim.
	StaleAfter time.Duration
	Clock      quartz.Clock
}

// Synchronizer runs sync attempts. Many attempts across accounts and
// endpoints run concurrently; they coordinate only through the
// backend's atomic claim and the shared throttle inside adapters.
type Synchronizer struct {
	backend      Backend
	reconciler   *store.Reconciler
	log          slog.Logger
	clock        quartz.Clock
	defaultDelay time.Duration
	staleAfter   time.Duration
}

func New(backend Backend, log slog.Logger, opts Options) *Synchronizer {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = 15 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	return &Synchronizer{
		backend:      backend,
		reconciler:   store.NewReconciler(backend, log),
		log:          log.Named("sync"),
		clock:        opts.Clock,
		defaultDelay: opts.DefaultDelay,
		staleAfter:   opts.StaleAfter,
	}
}

// AttemptSync drives one sync attempt for (account, adapter.Endpoint).
//
// The ordering is the correctness property: the in-flight tracker is
// the only write before any provider call, and the final commit is the
// only point where state becomes externally visible. A crash in between
// leaves no partial effect; the in-flight marker goes stale and is
// reclaimed.
func (s *Synchronizer) AttemptSync(ctx context.Context, acct *model.SyncAccount, ad Adapter) (Outcome, error) {
	ep := ad.Endpoint()
	now := s.clock.Now().UTC()

	tracker, ok, err := s.backend.Claim(ctx, acct.ID, ep, now, s.staleAfter, false)
	if err != nil {
		return OutcomeError, fmt.Errorf("claim %s/%s: %w", acct.ID, ep, err)
	}
	if !ok {
		return OutcomeContinue, nil
	}

	fin := store.Finish{
		Tracker: tracker,
		Expiry:  now.Add(s.defaultDelay),
	}

	cred, credErr := auth.ParseToken(acct.AccessToken)
	switch {
	case credErr != nil:
		// The credential may be replaced by the next attempt; a warning
		// with the default delay, not a permanent exclusion.
		tracker.State = model.TrackerSyncWarning
		tracker.Detail = fmt.Sprintf("credential unusable: %v", credErr)
	case cred.Expired(now):
		tracker.State = model.TrackerSyncWarning
		tracker.Detail = "credential expired, awaiting refresh"
	case !cred.HasScope(ad.Scope()):
		tracker.State = model.TrackerNotAllowed
		tracker.Detail = fmt.Sprintf("credential lacks scope %q", ad.Scope())
	default:
		outcome, err := s.fetchAndReconcile(ctx, acct, cred, ad, &fin, now)
		if err != nil {
			return outcome, err
		}
	}

	tracker.FinishedAt = s.clock.Now().UTC()
	if err := s.backend.Commit(ctx, fin); err != nil {
		return OutcomeError, fmt.Errorf("commit %s/%s: %w", acct.ID, ep, err)
	}

	s.log.Debug(ctx, "sync attempt finished",
		slog.F("account", acct.ID),
		slog.F("endpoint", ep),
		slog.F("state", tracker.State),
		slog.F("closes", len(fin.Changes.Closes)),
		slog.F("inserts", len(fin.Changes.Inserts)),
	)
	return OutcomeDone, nil
}

// fetchAndReconcile runs steps 2 and 3: the provider fetch, mapped onto
// a tracker state rather than propagated, and the reconciliation that
// collects entity writes into fin. Only store failures return an error,
// which aborts the attempt without commit.
func (s *Synchronizer) fetchAndReconcile(ctx context.Context, acct *model.SyncAccount, cred auth.Credentials, ad Adapter, fin *store.Finish, now time.Time) (Outcome, error) {
	tracker := fin.Tracker
	ep := ad.Endpoint()

	snap, err := ad.Fetch(ctx, acct, cred, tracker.NextSyncContext)
	switch {
	case errors.Is(err, ErrMissingScope):
		tracker.State = model.TrackerNotAllowed
		tracker.Detail = err.Error()
		return OutcomeDone, nil
	case err != nil:
		tracker.State = model.TrackerSyncError
		tracker.Detail = err.Error()
		s.log.Warn(ctx, "provider fetch failed",
			slog.F("account", acct.ID),
			slog.F("endpoint", ep),
			slog.Error(err),
		)
		return OutcomeDone, nil
	}

	if !snap.Expires.IsZero() {
		fin.Expiry = snap.Expires
	}
	if snap.Context != "" {
		tracker.NextSyncContext = snap.Context
	}
	if snap.Unchanged {
		tracker.State = model.TrackerUpdated
		tracker.Detail = "snapshot unchanged"
		return OutcomeDone, nil
	}

	var cs store.ChangeSet
	if snap.AppendOnly {
		cs, err = s.reconciler.AppendOnly(ctx, acct.ID, ep, ad.Codec(), snap.Entities, now)
	} else {
		cs, err = s.reconciler.Snapshot(ctx, acct.ID, ep, ad.Codec(), snap.Entities, now)
	}
	if err != nil {
		// Store read failures and invariant violations both abort the
		// attempt before anything is persisted. Invariant violations were
		// already logged at Critical by the reconciler.
		return OutcomeError, fmt.Errorf("reconcile %s/%s: %w", acct.ID, ep, err)
	}
	fin.Changes = cs

	if snap.Warning != "" {
		tracker.State = model.TrackerSyncWarning
		tracker.Detail = snap.Warning
	} else {
		tracker.State = model.TrackerUpdated
		tracker.Detail = fmt.Sprintf("%d closed, %d inserted", len(cs.Closes), len(cs.Inserts))
	}
	return OutcomeDone, nil
}

// ExcludeEndpoint administratively forces a terminal state for an
// endpoint without contacting the provider, used when a credential is
// known to lack scope. It honors the in-flight mutex but not the
// schedule gate.
func (s *Synchronizer) ExcludeEndpoint(ctx context.Context, acct *model.SyncAccount, ep model.Endpoint, state model.TrackerState, reason string) error {
	if state != model.TrackerNotAllowed && state != model.TrackerSyncError {
		return fmt.Errorf("exclusion state must be NOT_ALLOWED or SYNC_ERROR, got %s", state)
	}
	now := s.clock.Now().UTC()

	tracker, ok, err := s.backend.Claim(ctx, acct.ID, ep, now, s.staleAfter, true)
	if err != nil {
		return fmt.Errorf("claim %s/%s: %w", acct.ID, ep, err)
	}
	if !ok {
		return fmt.Errorf("exclude %s/%s: attempt in flight", acct.ID, ep)
	}

	tracker.State = state
	tracker.Detail = reason
	tracker.FinishedAt = now
	fin := store.Finish{
		Tracker: tracker,
		Expiry:  now.Add(s.defaultDelay),
	}
	if err := s.backend.Commit(ctx, fin); err != nil {
		return fmt.Errorf("commit exclusion %s/%s: %w", acct.ID, ep, err)
	}
	return nil
}
