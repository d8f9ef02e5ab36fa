// Package esync drives one synchronization attempt end to end:
// concurrency guard, schedule gate, adapter fetch, reconcile, and the
// atomic result commit.
package esync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// ErrMissingScope marks a provider rejection caused by a credential
// that lacks the endpoint's scope. The synchronizer maps it to
// NOT_ALLOWED rather than SYNC_ERROR.
var ErrMissingScope = errors.New("credential lacks required scope")

// ProviderError is a failed provider call: a transport failure or a
// non-success response. It is a value the synchronizer maps onto a
// tracker state, never control flow.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider call failed: %s", e.Message)
}

// NotFound reports a per-item miss, a soft condition adapters skip
// rather than fail an attempt over.
func (e *ProviderError) NotFound() bool {
	return e.Status == 404
}

// Snapshot is the value an adapter's fetch produces.
type Snapshot struct {
	// Entities is the fetched state mapped onto payload kinds.
	Entities []model.Entity
	// Expires is the provider's cache-expiry signal; zero means absent
	// and the synchronizer schedules the default delay.
	Expires time.Time
	// Context is the opaque cursor to persist for the next attempt.
	Context string
	// AppendOnly selects feed semantics: items are inserted once, never
	// equivalence-checked or retired.
	AppendOnly bool
	// Unchanged reports a conditional fetch that matched the previous
	// snapshot; the schedule advances and nothing is reconciled.
	Unchanged bool
	// Warning carries an advisory provider condition. Fetched data is
	// still persisted, but the attempt terminates as SYNC_WARNING.
	Warning string
}

// Adapter is the narrow per-endpoint contract. Adapters are stateless
// values: one instance may serve concurrent attempts across accounts.
type Adapter interface {
	// Endpoint names the data category this adapter synchronizes.
	Endpoint() model.Endpoint
	// Scope is the credential scope the endpoint requires, or "".
	Scope() string
	// Codec converts this endpoint's payload kind to and from its stored
	// form.
	Codec() model.Codec
	// Fetch calls the provider (through the shared throttle and the
	// retrieval helpers) and maps the response onto entities. prior is
	// the context persisted by the previous attempt.
	Fetch(ctx context.Context, acct *model.SyncAccount, cred auth.Credentials, prior string) (*Snapshot, error)
}
