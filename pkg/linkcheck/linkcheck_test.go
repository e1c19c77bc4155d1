package linkcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/missing", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/get-only", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestValidate(t *testing.T) {
	srv := newServer(t)
	c := New(Options{UserAgent: "test-agent", Timeout: 2 * time.Second})

	urls := []string{
		srv.URL + "/ok",
		srv.URL + "/moved",
		srv.URL + "/gone",
		srv.URL + "/get-only",
		"ftp://example.org/file",
		"not a url",
	}
	res, err := c.Validate(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, res, len(urls))

	for i, u := range urls {
		assert.Equal(t, u, res[i].URL)
	}
	assert.True(t, res[0].Valid)
	assert.True(t, res[1].Valid, "redirects count as valid")
	assert.False(t, res[2].Valid)
	assert.Equal(t, "HTTP 404", res[2].Diagnostic)
	assert.True(t, res[3].Valid, "falls back to GET on 405")
	assert.False(t, res[4].Valid)
	assert.Contains(t, res[4].Diagnostic, "unsupported scheme")
	assert.False(t, res[5].Valid)
	assert.Equal(t, "malformed URL", res[5].Diagnostic)
}

func TestValidate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(Options{Timeout: time.Second})
	res, err := c.Validate(context.Background(), []string{addr + "/x"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.False(t, res[0].Valid)
	assert.NotEmpty(t, res[0].Diagnostic)
}

func TestValidate_Concurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
	}))
	defer srv.Close()

	c := New(Options{Concurrency: 2})
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = srv.URL
	}
	res, err := c.Validate(context.Background(), urls)
	require.NoError(t, err)
	assert.Len(t, res, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestValidate_Cancelled(t *testing.T) {
	srv := newServer(t)
	c := New(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Validate(ctx, []string{srv.URL + "/ok"})
	require.Error(t, err)
}

func TestValidate_Empty(t *testing.T) {
	res, err := New(Options{}).Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{RequestsPerSecond: 5})
	assert.Equal(t, 8, c.opts.Concurrency)
	assert.Equal(t, "factcheck-cli/1.0", c.opts.UserAgent)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
	require.NotNil(t, c.limiter)
	assert.Nil(t, New(Options{}).limiter)
}
