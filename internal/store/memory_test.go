package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

func TestMemory_ClaimMutualExclusion(t *testing.T) {
	m := NewMemory()
	accountID := uuid.New()
	ep := model.EndpointAssets
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Many concurrent claims for one (account, endpoint): exactly one
	// passes the pre-check.
	const claimers = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.Claim(ctx, accountID, ep, now, time.Hour, false)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won, "exactly one claim must win")
}

func TestMemory_ClaimScheduleGate(t *testing.T) {
	m := NewMemory()
	accountID := uuid.New()
	ep := model.EndpointAssets
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tracker, ok, err := m.Claim(ctx, accountID, ep, now, time.Hour, false)
	require.NoError(t, err)
	require.True(t, ok)

	tracker.State = model.TrackerUpdated
	tracker.FinishedAt = now
	require.NoError(t, m.Commit(ctx, Finish{Tracker: tracker, Expiry: now.Add(30 * time.Minute)}))

	// Not due yet.
	_, ok, err = m.Claim(ctx, accountID, ep, now.Add(10*time.Minute), time.Hour, false)
	require.NoError(t, err)
	assert.False(t, ok)

	// force skips the schedule gate.
	forced, ok, err := m.Claim(ctx, accountID, ep, now.Add(10*time.Minute), time.Hour, true)
	require.NoError(t, err)
	assert.True(t, ok)
	forced.State = model.TrackerSyncError
	forced.FinishedAt = now.Add(10 * time.Minute)
	require.NoError(t, m.Commit(ctx, Finish{Tracker: forced, Expiry: now.Add(30 * time.Minute)}))

	// Due once the expiry elapses.
	_, ok, err = m.Claim(ctx, accountID, ep, now.Add(31*time.Minute), time.Hour, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ClaimReclaimsStaleAttempt(t *testing.T) {
	m := NewMemory()
	accountID := uuid.New()
	ep := model.EndpointAssets
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, ok, err := m.Claim(ctx, accountID, ep, now, time.Hour, false)
	require.NoError(t, err)
	require.True(t, ok)

	// A second claim within the stale window yields.
	_, ok, err = m.Claim(ctx, accountID, ep, now.Add(30*time.Minute), time.Hour, false)
	require.NoError(t, err)
	assert.False(t, ok)

	// Past the stale age the abandoned attempt is reclaimed.
	_, ok, err = m.Claim(ctx, accountID, ep, now.Add(2*time.Hour), time.Hour, false)
	require.NoError(t, err)
	assert.True(t, ok)

	trackers, err := m.Trackers(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, trackers, 1)
	assert.Equal(t, model.TrackerNotProcessed, trackers[0].State, "latest tracker is the new in-flight attempt")
}

func TestMemory_ClaimCarriesContextForward(t *testing.T) {
	m := NewMemory()
	accountID := uuid.New()
	ep := model.EndpointWalletJournal
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tracker, ok, err := m.Claim(ctx, accountID, ep, now, time.Hour, false)
	require.NoError(t, err)
	require.True(t, ok)
	tracker.State = model.TrackerUpdated
	tracker.NextSyncContext = `{"high_water_mark":42}`
	tracker.FinishedAt = now
	require.NoError(t, m.Commit(ctx, Finish{Tracker: tracker, Expiry: now}))

	next, ok, err := m.Claim(ctx, accountID, ep, now.Add(time.Minute), time.Hour, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"high_water_mark":42}`, next.NextSyncContext)
}

func TestMemory_CommitRejectsDuplicateBirth(t *testing.T) {
	m := NewMemory()
	accountID := uuid.New()
	ep := model.EndpointAssets
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	syncOnce(t, m, accountID, ep, []model.Entity{testItem{Name: "item1", Value: 1}}, now, false)

	tracker, ok, err := m.Claim(ctx, accountID, ep, now.Add(time.Hour), time.Hour, true)
	require.NoError(t, err)
	require.True(t, ok)
	tracker.State = model.TrackerUpdated
	tracker.FinishedAt = now.Add(time.Hour)

	err = m.Commit(ctx, Finish{
		Tracker: tracker,
		Expiry:  now.Add(2 * time.Hour),
		Changes: ChangeSet{Inserts: []*model.Version{{
			ID:        uuid.New(),
			AccountID: accountID,
			Endpoint:  ep,
			Key:       model.JoinKey("item1"),
			Payload:   mustEncode(t, testItem{Name: "item1", Value: 2}),
			LifeStart: now.Add(time.Hour),
		}}},
	})
	require.ErrorIs(t, err, ErrDuplicateBirth)

	// Nothing was applied: still the single original version.
	require.Len(t, m.Versions(accountID, ep), 1)
	assert.True(t, m.Versions(accountID, ep)[0].Live())
}

func TestMemory_QueryLiveCursor(t *testing.T) {
	m := NewMemory()
	accountID := uuid.New()
	ep := model.EndpointAssets
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	syncOnce(t, m, accountID, ep, []model.Entity{
		testItem{Name: "a", Value: 1},
		testItem{Name: "b", Value: 2},
		testItem{Name: "c", Value: 3},
	}, now, false)

	// Resume a full scan from the cursor, two at a time.
	page, err := m.QueryLive(ctx, accountID, ep, now, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, model.JoinKey("a"), page[0].Key)

	page, err = m.QueryLive(ctx, accountID, ep, now, page[1].Key, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, model.JoinKey("c"), page[0].Key)

	page, err = m.QueryLive(ctx, accountID, ep, now, page[0].Key, 2)
	require.NoError(t, err)
	assert.Empty(t, page, "empty page ends the scan")
}
