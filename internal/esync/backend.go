package esync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/store"
)

// Backend is the persistence contract the synchronizer runs against.
// store.Memory and store.Postgres both satisfy it.
type Backend interface {
	store.Store

	// Claim atomically verifies that no unfinished attempt exists for
	// (account, endpoint) and that the endpoint's scheduled expiry has
	// elapsed, recording a new in-flight tracker on success. This single
	// atomic step is the mutual-exclusion mechanism guaranteeing at most
	// one active sync per (account, endpoint). An in-flight tracker older
	// than staleAfter is reclaimed. force skips the schedule gate (but
	// never the mutex); it backs administrative exclusion. The returned
	// tracker inherits the previous attempt's next-sync context.
	Claim(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, now time.Time, staleAfter time.Duration, force bool) (*model.Tracker, bool, error)

	// Commit applies an attempt's result all-or-nothing: tracker terminal
	// transition, schedule advance, and entity writes.
	Commit(ctx context.Context, fin store.Finish) error

	// Trackers returns the most recent tracker per endpoint for one
	// account.
	Trackers(ctx context.Context, accountID uuid.UUID) ([]*model.Tracker, error)

	// Accounts lists every tracked account.
	Accounts(ctx context.Context) ([]*model.SyncAccount, error)
}
