package gitea

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/validate"
)

func init() {
	log.Logger = zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func marketplaceServer(t *testing.T) *httptest.Server {
	t.Helper()
	index := `[{"slug": "reviewer", "name": "Reviewer", "version": "1.0.0"}]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/version":
			_ = json.NewEncoder(w).Encode(map[string]string{"version": "1.20.0"})
		case "/api/v1/repos/personahub/market/raw/index.json":
			_, _ = w.Write([]byte(index))
		case "/api/v1/repos/personahub/market/raw/reviewer.md":
			_, _ = w.Write([]byte("---\nname: Reviewer\n---\nbody\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestListAndFetch(t *testing.T) {
	server := marketplaceServer(t)
	validator := validate.New(logging.NewSecurityLog(100))

	source, err := New(server.URL, "test-token", "personahub", "market", "main", validator, nil)
	require.NoError(t, err)
	assert.Equal(t, "gitea", source.Name())

	entries, err := source.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reviewer", entries[0].Slug)

	content, err := source.Fetch(context.Background(), entries[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "Reviewer")
}

func TestListFiltersByQuery(t *testing.T) {
	server := marketplaceServer(t)
	validator := validate.New(logging.NewSecurityLog(100))

	source, err := New(server.URL, "", "personahub", "market", "main", validator, nil)
	require.NoError(t, err)

	entries, err := source.List(context.Background(), "nomatch")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
