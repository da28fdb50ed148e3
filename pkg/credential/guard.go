package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/personahub/personahub/pkg/httpclient"
	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/ratelimit"
	"github.com/personahub/personahub/pkg/severity"
)

var (
	ErrScopeInsufficient = errors.New("credential lacks required scope")
	ErrRateLimited       = errors.New("credential check rate limited")
)

const (
	scopeCheckTimeout = 10 * time.Second
	scopeCacheTTL     = 15 * time.Minute
	rateKey           = "credential:scopes"
)

type scopeEntry struct {
	scopes  []string
	fetched time.Time
}

// Guard resolves the scopes a token carries by asking the identity
// endpoint, with a per-token cache so repeated checks during one run do
// not hammer the remote. Cache entries are keyed by a hash of the
// token, never the token itself.
type Guard struct {
	endpoint string
	client   *retryablehttp.Client
	limiter  *ratelimit.Limiter
	secLog   *logging.SecurityLog

	mu    sync.Mutex
	cache map[string]scopeEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewGuard wires a scope-check guard against the given identity
// endpoint. limiter may be shared with other credential operations.
func NewGuard(endpoint string, limiter *ratelimit.Limiter, secLog *logging.SecurityLog) *Guard {
	return &Guard{
		endpoint: endpoint,
		client:   httpclient.New(nil, scopeCheckTimeout),
		limiter:  limiter,
		secLog:   secLog,
		cache:    map[string]scopeEntry{},
		now:      time.Now,
	}
}

// CheckScopes verifies that token carries every scope in required.
// Network errors and timeouts fail closed: the scope is treated as
// insufficient rather than assumed present.
func (g *Guard) CheckScopes(ctx context.Context, token string, required []string) error {
	if len(required) == 0 {
		return nil
	}

	scopes, ok := g.cachedScopes(token)
	if !ok {
		if g.limiter != nil {
			if decision := g.limiter.Check(rateKey); !decision.Allowed {
				return fmt.Errorf("%w, retry after %s", ErrRateLimited, decision.RetryAfter.Round(time.Second))
			}
		}

		fetched, err := g.fetchScopes(ctx, token)
		if err != nil {
			g.logDenied(token, "scope lookup failed")
			// Fail closed: an unreachable identity endpoint grants nothing.
			return fmt.Errorf("%w: %s", ErrScopeInsufficient, SafeErrorMessage(err.Error(), token))
		}
		scopes = fetched
		g.storeScopes(token, scopes)
	}

	granted := map[string]bool{}
	for _, scope := range scopes {
		granted[scope] = true
	}
	for _, scope := range required {
		if !granted[scope] {
			g.logDenied(token, "missing scope "+scope)
			return fmt.Errorf("%w: %s", ErrScopeInsufficient, scope)
		}
	}
	return nil
}

func (g *Guard) fetchScopes(ctx context.Context, token string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, scopeCheckTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(body, "scopes")
	if !result.Exists() {
		return nil, errors.New("identity endpoint response carries no scopes field")
	}

	scopes := []string{}
	for _, entry := range result.Array() {
		scopes = append(scopes, entry.String())
	}
	return scopes, nil
}

func (g *Guard) cachedScopes(token string) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.cache[cacheKey(token)]
	if !ok || g.now().Sub(entry.fetched) > scopeCacheTTL {
		return nil, false
	}
	return entry.scopes, true
}

func (g *Guard) storeScopes(token string, scopes []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[cacheKey(token)] = scopeEntry{scopes: scopes, fetched: g.now()}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (g *Guard) logDenied(token string, details string) {
	log.Debug().Str("credential", Redact(token)).Msg("Credential check denied")
	if g.secLog == nil {
		return
	}
	g.secLog.Record(logging.Event{
		Type:     logging.EventCredential,
		Severity: severity.Medium,
		Source:   Redact(token),
		Details:  details,
	})
}

// SetClock replaces the cache time source (tests only).
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}
