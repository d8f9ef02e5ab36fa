// Package store is the bitemporal versioned entity store: the evolve
// operation, the snapshot/append-only reconciliation algorithm, and the
// ordered queryable backends (in-memory and Postgres) the synchronizer
// commits through.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

var (
	// ErrNotFound is returned when no live version exists for a key.
	ErrNotFound = errors.New("no live version")

	// ErrEvolveClosed is returned when evolve is asked to act on an
	// already-closed version. This is an invariant violation, never a
	// retryable condition: it means reconciliation or identity-key
	// scoping is broken.
	ErrEvolveClosed = errors.New("evolve on closed version")

	// ErrDuplicateBirth is returned when an insert would create a second
	// live version for one identity key. Same severity as ErrEvolveClosed.
	ErrDuplicateBirth = errors.New("duplicate live version")
)

// Store is the ordered, queryable persistence contract the reconciler
// reads through. Writes are collected into a ChangeSet and applied
// atomically elsewhere, never through this interface.
type Store interface {
	// GetLive returns the version of key live at asOf, or ErrNotFound.
	GetLive(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, asOf time.Time, key model.Key) (*model.Version, error)
	// QueryLive returns up to limit versions live at asOf with keys
	// strictly greater than after, in ascending key order. The cursor is
	// the last key of the previous page; an empty page ends the scan.
	QueryLive(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, asOf time.Time, after model.Key, limit int) ([]*model.Version, error)
}

// Close retires one stored version at a given logical time.
type Close struct {
	VersionID uuid.UUID
	At        time.Time
}

// ChangeSet is the collected result of one reconciliation: versions to
// close and versions to insert. It is applied all-or-nothing by the
// backend's commit.
type ChangeSet struct {
	Closes  []Close
	Inserts []*model.Version
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Closes) == 0 && len(cs.Inserts) == 0
}

// Evolve compares a live stored version against a fresh snapshot of the
// same identity key at logical time at, appending the resulting writes
// to cs:
//
//   - existing nil, incoming non-nil: birth, insert a new live version.
//   - both non-nil, not equivalent: close existing at at, insert the
//     incoming payload as a new live version.
//   - both non-nil, equivalent: no-op.
//   - incoming nil: death, close existing and insert nothing.
//
// A non-live existing version is rejected with ErrEvolveClosed.
func Evolve(cs *ChangeSet, existing *model.Version, incoming model.Entity, codec model.Codec, accountID uuid.UUID, ep model.Endpoint, at time.Time) error {
	if existing != nil && !existing.Live() {
		return fmt.Errorf("%w: account=%s endpoint=%s key=%s", ErrEvolveClosed, accountID, ep, existing.Key)
	}

	if incoming == nil {
		if existing == nil {
			return nil
		}
		cs.Closes = append(cs.Closes, Close{VersionID: existing.ID, At: at})
		return nil
	}

	if existing != nil {
		prior, err := codec.Decode(existing.Payload)
		if err != nil {
			return fmt.Errorf("decode live version %s: %w", existing.Key, err)
		}
		if prior.Equivalent(incoming) {
			return nil
		}
		cs.Closes = append(cs.Closes, Close{VersionID: existing.ID, At: at})
	}

	payload, err := codec.Encode(incoming)
	if err != nil {
		return fmt.Errorf("encode version %s: %w", incoming.IdentityKey(), err)
	}
	cs.Inserts = append(cs.Inserts, &model.Version{
		ID:        uuid.New(),
		AccountID: accountID,
		Endpoint:  ep,
		Key:       incoming.IdentityKey(),
		Payload:   payload,
		LifeStart: at,
	})
	return nil
}
