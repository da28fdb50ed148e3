package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTripperAddsDefaults(t *testing.T) {
	var gotAgent, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(map[string]string{"X-Custom": "default-value"}, 5*time.Second)
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, gotAgent)
	assert.Equal(t, "default-value", gotCustom)
}

func TestHeaderRoundTripperKeepsExplicitHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(map[string]string{"X-Custom": "default-value"}, 5*time.Second)
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Custom", "explicit")

	retryReq, err := retryablehttp.FromRequest(req)
	require.NoError(t, err)
	resp, err := client.Do(retryReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "explicit", got)
}

func TestRetriesOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(nil, 10*time.Second)
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = 5 * time.Millisecond

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestDoesNotRetryNotImplemented(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotImplemented)
	}))
	defer server.Close()

	client := New(nil, 5*time.Second)
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, int32(1), calls.Load())
}
