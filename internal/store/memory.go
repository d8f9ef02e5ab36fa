package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// Memory is an in-process backend holding versions, trackers, and
// per-endpoint expiries under one mutex. It backs tests and single-node
// deployments; Postgres is the production backend.
type Memory struct {
	mu       sync.Mutex
	versions map[uuid.UUID]map[model.Endpoint][]*model.Version
	trackers map[uuid.UUID]map[model.Endpoint][]*model.Tracker
	expiries map[uuid.UUID]*model.Container
	accounts []*model.SyncAccount
}

func NewMemory() *Memory {
	return &Memory{
		versions: make(map[uuid.UUID]map[model.Endpoint][]*model.Version),
		trackers: make(map[uuid.UUID]map[model.Endpoint][]*model.Tracker),
		expiries: make(map[uuid.UUID]*model.Container),
	}
}

func (m *Memory) GetLive(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, asOf time.Time, key model.Key) (*model.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.versions[accountID][ep] {
		if v.Key == key && v.LiveAt(asOf) {
			clone := *v
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) QueryLive(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, asOf time.Time, after model.Key, limit int) ([]*model.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var page []*model.Version
	for _, v := range m.versions[accountID][ep] {
		if v.Key > after && v.LiveAt(asOf) {
			clone := *v
			page = append(page, &clone)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].Key < page[j].Key })
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

// Claim atomically performs the synchronizer's pre-check: no live
// in-flight tracker for (account, endpoint), and the endpoint's
// scheduled expiry elapsed (skipped when force is set). On success a
// new in-flight tracker, inheriting the previous attempt's context, is
// recorded and returned; otherwise ok is false. An in-flight tracker
// older than staleAfter is reclaimed as SYNC_ERROR.
func (m *Memory) Claim(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, now time.Time, staleAfter time.Duration, force bool) (*model.Tracker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := ""
	history := m.trackers[accountID][ep]
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.InFlight() {
			if !last.Stale(now, staleAfter) {
				return nil, false, nil
			}
			last.State = model.TrackerSyncError
			last.Detail = "reclaimed: attempt exceeded stale age"
			last.FinishedAt = now
		}
		prior = last.NextSyncContext
	}

	if !force {
		if c, ok := m.expiries[accountID]; ok && !c.Due(ep, now) {
			return nil, false, nil
		}
	}

	t := &model.Tracker{
		ID:              uuid.New(),
		AccountID:       accountID,
		Endpoint:        ep,
		State:           model.TrackerNotProcessed,
		NextSyncContext: prior,
		StartedAt:       now,
	}
	if m.trackers[accountID] == nil {
		m.trackers[accountID] = make(map[model.Endpoint][]*model.Tracker)
	}
	m.trackers[accountID][ep] = append(m.trackers[accountID][ep], t)

	clone := *t
	return &clone, true, nil
}

// Commit applies a Finish atomically: tracker transition, expiry
// advance, and all entity writes, or none of them.
func (m *Memory) Commit(ctx context.Context, fin Finish) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := fin.Tracker
	stored := m.findTracker(t.AccountID, t.Endpoint, t.ID)
	if stored == nil {
		return fmt.Errorf("commit tracker %s: %w", t.ID, ErrNotFound)
	}

	// Validate entity writes before mutating anything.
	for _, cl := range fin.Changes.Closes {
		v := m.findVersion(t.AccountID, t.Endpoint, cl.VersionID)
		if v == nil {
			return fmt.Errorf("close version %s: %w", cl.VersionID, ErrNotFound)
		}
		if !v.Live() {
			return fmt.Errorf("close version %s key=%s: %w", cl.VersionID, v.Key, ErrEvolveClosed)
		}
	}
	closing := make(map[uuid.UUID]struct{}, len(fin.Changes.Closes))
	for _, cl := range fin.Changes.Closes {
		closing[cl.VersionID] = struct{}{}
	}
	for _, ins := range fin.Changes.Inserts {
		for _, v := range m.versions[t.AccountID][t.Endpoint] {
			if _, beingClosed := closing[v.ID]; beingClosed {
				continue
			}
			if v.Key == ins.Key && v.Live() {
				return fmt.Errorf("insert key=%s: %w", ins.Key, ErrDuplicateBirth)
			}
		}
	}

	stored.State = t.State
	stored.Detail = t.Detail
	stored.NextSyncContext = t.NextSyncContext
	stored.FinishedAt = t.FinishedAt

	c, ok := m.expiries[t.AccountID]
	if !ok {
		c = model.NewContainer(t.AccountID)
		m.expiries[t.AccountID] = c
	}
	c.Expiries[t.Endpoint] = fin.Expiry

	for _, cl := range fin.Changes.Closes {
		m.findVersion(t.AccountID, t.Endpoint, cl.VersionID).LifeEnd = cl.At
	}
	if m.versions[t.AccountID] == nil {
		m.versions[t.AccountID] = make(map[model.Endpoint][]*model.Version)
	}
	for _, ins := range fin.Changes.Inserts {
		clone := *ins
		m.versions[t.AccountID][t.Endpoint] = append(m.versions[t.AccountID][t.Endpoint], &clone)
	}
	return nil
}

func (m *Memory) Trackers(ctx context.Context, accountID uuid.UUID) ([]*model.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Tracker
	for _, history := range m.trackers[accountID] {
		if n := len(history); n > 0 {
			clone := *history[n-1]
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (m *Memory) Accounts(ctx context.Context) ([]*model.SyncAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.SyncAccount, len(m.accounts))
	for i, a := range m.accounts {
		clone := *a
		out[i] = &clone
	}
	return out, nil
}

// AddAccount registers an account for synchronization.
func (m *Memory) AddAccount(a *model.SyncAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.accounts = append(m.accounts, &clone)
}

// Versions returns every stored version for (account, endpoint),
// history included, ordered by key then life start. Used by tests and
// the status endpoint.
func (m *Memory) Versions(accountID uuid.UUID, ep model.Endpoint) []*model.Version {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Version, 0, len(m.versions[accountID][ep]))
	for _, v := range m.versions[accountID][ep] {
		clone := *v
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].LifeStart.Before(out[j].LifeStart)
	})
	return out
}

func (m *Memory) findTracker(accountID uuid.UUID, ep model.Endpoint, id uuid.UUID) *model.Tracker {
	for _, t := range m.trackers[accountID][ep] {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *Memory) findVersion(accountID uuid.UUID, ep model.Endpoint, id uuid.UUID) *model.Version {
	for _, v := range m.versions[accountID][ep] {
		if v.ID == id {
			return v
		}
	}
	return nil
}
