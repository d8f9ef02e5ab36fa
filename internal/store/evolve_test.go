package store

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// testItem is the payload kind used throughout the store tests.
type testItem struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func (t testItem) IdentityKey() model.Key {
	return model.JoinKey(t.Name)
}

func (t testItem) Equivalent(other model.Entity) bool {
	o, ok := other.(testItem)
	return ok && t == o
}

type testCodec struct{}

func (testCodec) Encode(e model.Entity) ([]byte, error) {
	v, ok := e.(testItem)
	if !ok {
		return nil, fmt.Errorf("unexpected payload kind %T", e)
	}
	return json.Marshal(v)
}

func (testCodec) Decode(payload []byte) (model.Entity, error) {
	var v testItem
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func mustEncode(t *testing.T, e model.Entity) []byte {
	t.Helper()
	payload, err := testCodec{}.Encode(e)
	require.NoError(t, err)
	return payload
}

func TestEvolve_Birth(t *testing.T) {
	accountID := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var cs ChangeSet
	err := Evolve(&cs, nil, testItem{Name: "item1", Value: 1}, testCodec{}, accountID, model.EndpointAssets, at)
	require.NoError(t, err)

	require.Len(t, cs.Inserts, 1)
	assert.Empty(t, cs.Closes)
	ins := cs.Inserts[0]
	assert.Equal(t, accountID, ins.AccountID)
	assert.Equal(t, model.JoinKey("item1"), ins.Key)
	assert.Equal(t, at, ins.LifeStart)
	assert.True(t, ins.Live(), "new version should be open-ended")
}

func TestEvolve_Evolution(t *testing.T) {
	accountID := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	existing := &model.Version{
		ID:        uuid.New(),
		AccountID: accountID,
		Endpoint:  model.EndpointAssets,
		Key:       model.JoinKey("item1"),
		Payload:   mustEncode(t, testItem{Name: "item1", Value: 1}),
		LifeStart: t0,
	}

	var cs ChangeSet
	err := Evolve(&cs, existing, testItem{Name: "item1", Value: 2}, testCodec{}, accountID, model.EndpointAssets, t1)
	require.NoError(t, err)

	require.Len(t, cs.Closes, 1)
	require.Len(t, cs.Inserts, 1)
	assert.Equal(t, existing.ID, cs.Closes[0].VersionID)
	assert.Equal(t, t1, cs.Closes[0].At)
	assert.Equal(t, t1, cs.Inserts[0].LifeStart)
}

func TestEvolve_EquivalentNoOp(t *testing.T) {
	accountID := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	existing := &model.Version{
		ID:        uuid.New(),
		AccountID: accountID,
		Endpoint:  model.EndpointAssets,
		Key:       model.JoinKey("item1"),
		Payload:   mustEncode(t, testItem{Name: "item1", Value: 1}),
		LifeStart: t0,
	}

	var cs ChangeSet
	err := Evolve(&cs, existing, testItem{Name: "item1", Value: 1}, testCodec{}, accountID, model.EndpointAssets, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, cs.Empty(), "equivalent snapshot must not create a new version")
}

func TestEvolve_Death(t *testing.T) {
	accountID := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	existing := &model.Version{
		ID:        uuid.New(),
		AccountID: accountID,
		Endpoint:  model.EndpointAssets,
		Key:       model.JoinKey("item1"),
		Payload:   mustEncode(t, testItem{Name: "item1", Value: 1}),
		LifeStart: t0,
	}

	var cs ChangeSet
	err := Evolve(&cs, existing, nil, testCodec{}, accountID, model.EndpointAssets, t1)
	require.NoError(t, err)

	require.Len(t, cs.Closes, 1)
	assert.Empty(t, cs.Inserts, "death inserts nothing")
	assert.Equal(t, t1, cs.Closes[0].At)
}

func TestEvolve_ClosedVersionRejected(t *testing.T) {
	accountID := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	closed := &model.Version{
		ID:        uuid.New(),
		AccountID: accountID,
		Endpoint:  model.EndpointAssets,
		Key:       model.JoinKey("item1"),
		Payload:   mustEncode(t, testItem{Name: "item1", Value: 1}),
		LifeStart: t0,
		LifeEnd:   t0.Add(time.Hour),
	}

	var cs ChangeSet
	err := Evolve(&cs, closed, testItem{Name: "item1", Value: 2}, testCodec{}, accountID, model.EndpointAssets, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrEvolveClosed)
	assert.True(t, cs.Empty())
}
