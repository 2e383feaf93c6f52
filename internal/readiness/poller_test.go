package readiness

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gitdeploy/internal/deployerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPoller() *Poller {
	p := NewPoller(nil)
	p.Interval = 10 * time.Millisecond
	p.RequestTimeout = time.Second
	return p
}

func TestWaitForReady_ImmediateMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, "<html><body>Hello NodeJS!</body></html>")
	}))
	defer srv.Close()

	err := fastPoller().WaitForReady(context.Background(), srv.URL, "Hello NodeJS!", 5*time.Second)
	assert.NoError(t, err)
}

func TestWaitForReady_RetriesUntilReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch n := hits.Add(1); {
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case n == 2:
			fmt.Fprint(w, "Your app service is up and running")
		default:
			fmt.Fprint(w, "Hello, Python!")
		}
	}))
	defer srv.Close()

	err := fastPoller().WaitForReady(context.Background(), srv.URL, "Hello, Python!", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestWaitForReady_MatchIsCaseSensitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello php!")
	}))
	defer srv.Close()

	err := fastPoller().WaitForReady(context.Background(), srv.URL, "Hello PHP!", 200*time.Millisecond)
	assert.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
}

func TestWaitForReady_Non2xxBodyIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "Hello PHP!")
	}))
	defer srv.Close()

	err := fastPoller().WaitForReady(context.Background(), srv.URL, "Hello PHP!", 200*time.Millisecond)
	require.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestWaitForReady_KeepsLastSiteFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	err := fastPoller().WaitForReady(context.Background(), srv.URL, "Hello PHP!", 200*time.Millisecond)
	require.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.NotContains(t, err.Error(), "context deadline exceeded")
}

func TestWaitForReady_TimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Microsoft Azure App Service - Welcome")
	}))
	defer srv.Close()

	p := NewPoller(nil)
	p.Interval = 100 * time.Millisecond

	start := time.Now()
	err := p.WaitForReady(context.Background(), srv.URL, "Hello PHP!", time.Second)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
	assert.Less(t, elapsed, 3*time.Second)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestWaitForReady_AbortsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := fastPoller()
	p.RequestTimeout = time.Minute

	start := time.Now()
	err := p.WaitForReady(context.Background(), srv.URL, "anything", 300*time.Millisecond)

	require.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitForReady_ConnectionRefusedIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := fastPoller().WaitForReady(context.Background(), url, "ok", 150*time.Millisecond)
	assert.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
}

func TestWaitForReady_NonPositiveTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	for _, timeout := range []time.Duration{0, -time.Second} {
		err := fastPoller().WaitForReady(context.Background(), srv.URL, "ok", timeout)
		assert.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
	}
	assert.Zero(t, hits.Load())
}

func TestWaitForReady_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not yet")
	}))
	defer srv.Close()

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := fastPoller().WaitForReady(ctx, srv.URL, "ready", time.Minute)
		assert.ErrorIs(t, err, deployerr.ErrCancelled)
	})

	t.Run("while polling", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := fastPoller().WaitForReady(ctx, srv.URL, "ready", time.Minute)
		assert.ErrorIs(t, err, deployerr.ErrCancelled)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestWaitForReady_LargeBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", MaxBodyBytes))
		fmt.Fprint(w, "Hello NodeJS!")
	}))
	defer srv.Close()

	err := fastPoller().WaitForReady(context.Background(), srv.URL, "Hello NodeJS!", 200*time.Millisecond)
	assert.ErrorIs(t, err, deployerr.ErrReadinessTimeout)
}
