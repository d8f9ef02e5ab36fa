package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/throttle"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *throttle.MemoryBudget, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := slogtest.Make(t, nil).Leveled(slog.LevelDebug)
	clock := quartz.NewReal()
	budget := throttle.NewMemoryBudget()
	th := throttle.New(1000, budget, clock, log)
	return NewClient(srv.URL, th, clock, log), budget, srv
}

func TestClient_ParsesProviderSignals(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(20 * time.Minute).UTC().Truncate(time.Second)

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/characters/90000001/assets", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		w.Header().Set("Expires", expires.Format(http.TimeFormat))
		w.Header().Set("ETag", `W/"abc123"`)
		w.Header().Set("X-Pages", "3")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"item_id":1}]`))
	}))

	cred := auth.Credentials{AccessToken: "tok-123"}
	resp, err := client.Get(ctx, model.EndpointAssets, "/characters/90000001/assets",
		url.Values{"page": {"2"}}, cred, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `[{"item_id":1}]`, string(resp.Body))
	assert.Equal(t, expires, resp.Expires)
	assert.Equal(t, `W/"abc123"`, resp.ETag)
	assert.Equal(t, 3, resp.Pages)
	assert.False(t, resp.NotModified)
}

func TestClient_ObservesErrorBudget(t *testing.T) {
	ctx := context.Background()
	client, budget, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Esi-Error-Limit-Remain", "37")
		w.Header().Set("X-Esi-Error-Limit-Reset", "42")
		w.WriteHeader(http.StatusOK)
	}))

	before := time.Now()
	_, err := client.Get(ctx, model.EndpointAssets, "/x", nil, auth.Credentials{}, "")
	require.NoError(t, err)

	b, ok, err := budget.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok, "budget headers must be recorded")
	assert.Equal(t, 37, b.Remain)
	assert.WithinDuration(t, before.Add(42*time.Second), b.ResetAt, 5*time.Second)
}

func TestClient_NotModified(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `W/"abc123"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))

	resp, err := client.Get(ctx, model.EndpointWalletBalance, "/x", nil, auth.Credentials{}, `W/"abc123"`)
	require.NoError(t, err)
	assert.True(t, resp.NotModified)
}

func TestClient_ForbiddenMapsToMissingScope(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token is not valid for scope", http.StatusForbidden)
	}))

	_, err := client.Get(ctx, model.EndpointWalletBalance, "/x", nil, auth.Credentials{}, "")
	require.ErrorIs(t, err, esync.ErrMissingScope)
}

func TestClient_ServerError(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "all shards down", http.StatusInternalServerError)
	}))

	_, err := client.Get(ctx, model.EndpointWalletJournal, "/x", nil, auth.Credentials{}, "")
	var perr *esync.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.Status)
	assert.Equal(t, "all shards down", perr.Message)
	assert.False(t, perr.NotFound())
}

func TestClient_NotFoundIsSoft(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such character", http.StatusNotFound)
	}))

	_, err := client.Get(ctx, model.EndpointWalletJournal, "/x", nil, auth.Credentials{}, "")
	var perr *esync.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.NotFound())
}

func TestClient_TransportFailure(t *testing.T) {
	ctx := context.Background()
	client, _, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := client.Get(ctx, model.EndpointAssets, "/x", nil, auth.Credentials{}, "")
	var perr *esync.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, perr.Status, "transport failures carry no HTTP status")
}
