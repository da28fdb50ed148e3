package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/ratelimit"
)

func scopeServer(t *testing.T, calls *atomic.Int32, scopes string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"scopes": ` + scopes + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheckScopesGranted(t *testing.T) {
	var calls atomic.Int32
	server := scopeServer(t, &calls, `["persona:read", "persona:write"]`)

	guard := NewGuard(server.URL, nil, logging.NewSecurityLog(100))
	token := "phb_" + strings.Repeat("a", 40)

	err := guard.CheckScopes(context.Background(), token, []string{"persona:read"})
	assert.NoError(t, err)
}

func TestCheckScopesMissing(t *testing.T) {
	var calls atomic.Int32
	server := scopeServer(t, &calls, `["persona:read"]`)
	secLog := logging.NewSecurityLog(100)

	guard := NewGuard(server.URL, nil, secLog)
	token := "phb_" + strings.Repeat("a", 40)

	err := guard.CheckScopes(context.Background(), token, []string{"persona:write"})
	assert.ErrorIs(t, err, ErrScopeInsufficient)
	assert.NotContains(t, err.Error(), token)
	assert.NotEmpty(t, secLog.RecentEvents(0))
}

func TestCheckScopesCachesPerToken(t *testing.T) {
	var calls atomic.Int32
	server := scopeServer(t, &calls, `["persona:read"]`)

	guard := NewGuard(server.URL, nil, nil)
	token := "phb_" + strings.Repeat("a", 40)

	require.NoError(t, guard.CheckScopes(context.Background(), token, []string{"persona:read"}))
	require.NoError(t, guard.CheckScopes(context.Background(), token, []string{"persona:read"}))
	assert.Equal(t, int32(1), calls.Load(), "second check must hit the cache")

	other := "phb_" + strings.Repeat("b", 40)
	require.NoError(t, guard.CheckScopes(context.Background(), other, []string{"persona:read"}))
	assert.Equal(t, int32(2), calls.Load(), "distinct tokens must not share cache entries")
}

func TestCheckScopesCacheExpires(t *testing.T) {
	var calls atomic.Int32
	server := scopeServer(t, &calls, `["persona:read"]`)

	guard := NewGuard(server.URL, nil, nil)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	guard.SetClock(func() time.Time { return current })
	token := "phb_" + strings.Repeat("a", 40)

	require.NoError(t, guard.CheckScopes(context.Background(), token, []string{"persona:read"}))
	current = current.Add(20 * time.Minute)
	require.NoError(t, guard.CheckScopes(context.Background(), token, []string{"persona:read"}))
	assert.Equal(t, int32(2), calls.Load(), "expired cache entry must be refetched")
}

func TestCheckScopesFailsClosedOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	guard := NewGuard(server.URL, nil, nil)
	token := "phb_" + strings.Repeat("a", 40)

	err := guard.CheckScopes(context.Background(), token, []string{"persona:read"})
	assert.ErrorIs(t, err, ErrScopeInsufficient)
}

func TestCheckScopesFailsClosedOnUnreachableEndpoint(t *testing.T) {
	guard := NewGuard("http://127.0.0.1:1", nil, nil)
	guard.client.RetryMax = 0
	token := "phb_" + strings.Repeat("a", 40)

	err := guard.CheckScopes(context.Background(), token, []string{"persona:read"})
	assert.ErrorIs(t, err, ErrScopeInsufficient)
	assert.NotContains(t, err.Error(), token)
}

func TestCheckScopesRateLimited(t *testing.T) {
	var calls atomic.Int32
	server := scopeServer(t, &calls, `["persona:read"]`)

	limiter := ratelimit.New(nil, ratelimit.Options{Capacity: 1, Window: time.Hour})
	guard := NewGuard(server.URL, limiter, nil)

	first := "phb_" + strings.Repeat("a", 40)
	second := "phb_" + strings.Repeat("b", 40)

	require.NoError(t, guard.CheckScopes(context.Background(), first, []string{"persona:read"}))

	err := guard.CheckScopes(context.Background(), second, []string{"persona:read"})
	assert.ErrorIs(t, err, ErrRateLimited)

	// Cached tokens bypass the limiter entirely.
	assert.NoError(t, guard.CheckScopes(context.Background(), first, []string{"persona:read"}))
}

func TestCheckScopesNoRequirements(t *testing.T) {
	guard := NewGuard("http://127.0.0.1:1", nil, nil)
	assert.NoError(t, guard.CheckScopes(context.Background(), "anything", nil))
}
