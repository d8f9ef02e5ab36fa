package model

import (
	"time"

	"github.com/google/uuid"
)

// TrackerState is the outcome of a synchronization attempt.
type TrackerState string

const (
	// TrackerNotProcessed marks an attempt that is claimed but not finished.
	TrackerNotProcessed TrackerState = "NOT_PROCESSED"
	// TrackerUpdated marks a successful fetch and reconcile, even with
	// zero resulting changes.
	TrackerUpdated TrackerState = "UPDATED"
	// TrackerSyncWarning marks an advisory provider condition; fetched
	// data is still persisted and the schedule still advances.
	TrackerSyncWarning TrackerState = "SYNC_WARNING"
	// TrackerSyncError marks a provider or transport failure; the schedule
	// advances to avoid hot-looping but no data is persisted.
	TrackerSyncError TrackerState = "SYNC_ERROR"
	// TrackerNotAllowed marks an endpoint the credential has no scope for.
	// It is set without contacting the provider.
	TrackerNotAllowed TrackerState = "NOT_ALLOWED"
)

// Terminal reports whether the state ends an attempt.
func (s TrackerState) Terminal() bool {
	return s != TrackerNotProcessed && s != ""
}

// Tracker records one synchronization attempt for an (account, endpoint)
// pair: its claim time, terminal outcome, a human-readable diagnostic,
// and the opaque context carried to the next attempt.
type Tracker struct {
	ID              uuid.UUID    `json:"id"`
	AccountID       uuid.UUID    `json:"account_id"`
	Endpoint        Endpoint     `json:"endpoint"`
	State           TrackerState `json:"state"`
	Detail          string       `json:"detail,omitempty"`
	NextSyncContext string       `json:"next_sync_context,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at,omitzero"`
}

// InFlight reports whether the tracker represents an unfinished attempt.
func (t *Tracker) InFlight() bool {
	return !t.State.Terminal()
}

// Stale reports whether an in-flight tracker has outlived maxAge and may
// be reclaimed by a new attempt.
func (t *Tracker) Stale(now time.Time, maxAge time.Duration) bool {
	return t.InFlight() && now.Sub(t.StartedAt) > maxAge
}
