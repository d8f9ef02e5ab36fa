package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog"
	"github.com/google/uuid"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

const defaultPageSize = 1000

// Reconciler compares a fetched provider snapshot against the stored
// live versions of one (account, endpoint) and produces the ChangeSet
// that makes the store match the snapshot while preserving history.
// It only reads through the Store; nothing is written until the
// synchronizer commits the ChangeSet atomically.
type Reconciler struct {
	store    Store
	log      slog.Logger
	pageSize int
}

func NewReconciler(store Store, log slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		log:      log.Named("reconcile"),
		pageSize: defaultPageSize,
	}
}

// Snapshot reconciles a complete point-in-time snapshot: fetched items
// are born or evolved, and every stored live entity absent from the
// snapshot is retired at at.
func (r *Reconciler) Snapshot(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, codec model.Codec, fetched []model.Entity, at time.Time) (ChangeSet, error) {
	var cs ChangeSet

	seen := make(map[model.Key]struct{}, len(fetched))
	for _, e := range fetched {
		key := e.IdentityKey()
		if _, dup := seen[key]; dup {
			// Providers occasionally repeat an item across pages; the
			// first occurrence wins.
			continue
		}
		seen[key] = struct{}{}

		existing, err := r.store.GetLive(ctx, accountID, ep, at, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return ChangeSet{}, fmt.Errorf("get live %s: %w", key, err)
		}
		if err := Evolve(&cs, existing, e, codec, accountID, ep, at); err != nil {
			return ChangeSet{}, r.fatalIfInvariant(ctx, err)
		}
	}

	// Retire live entities the snapshot no longer reports. Pages follow
	// the key cursor until an empty page ends the scan.
	cursor := model.Key("")
	for {
		page, err := r.store.QueryLive(ctx, accountID, ep, at, cursor, r.pageSize)
		if err != nil {
			return ChangeSet{}, fmt.Errorf("query live after %q: %w", cursor, err)
		}
		if len(page) == 0 {
			break
		}
		for _, v := range page {
			cursor = v.Key
			if _, ok := seen[v.Key]; ok {
				continue
			}
			if err := Evolve(&cs, v, nil, codec, accountID, ep, at); err != nil {
				return ChangeSet{}, r.fatalIfInvariant(ctx, err)
			}
		}
	}

	return cs, nil
}

// AppendOnly reconciles an immutable feed: items never change and never
// retire, so only existence is checked and unseen items are inserted
// once. Equivalence and the retirement scan are skipped entirely.
func (r *Reconciler) AppendOnly(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, codec model.Codec, fetched []model.Entity, at time.Time) (ChangeSet, error) {
	var cs ChangeSet

	seen := make(map[model.Key]struct{}, len(fetched))
	for _, e := range fetched {
		key := e.IdentityKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		_, err := r.store.GetLive(ctx, accountID, ep, at, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return ChangeSet{}, fmt.Errorf("get live %s: %w", key, err)
		}
		if err := Evolve(&cs, nil, e, codec, accountID, ep, at); err != nil {
			return ChangeSet{}, r.fatalIfInvariant(ctx, err)
		}
	}

	return cs, nil
}

// fatalIfInvariant logs invariant violations loudly before returning
// them. These indicate broken reconciliation or key scoping and must
// never be silently swallowed or retried.
func (r *Reconciler) fatalIfInvariant(ctx context.Context, err error) error {
	if errors.Is(err, ErrEvolveClosed) || errors.Is(err, ErrDuplicateBirth) {
		r.log.Critical(ctx, "reconciliation invariant violated", slog.Error(err))
	}
	return err
}
