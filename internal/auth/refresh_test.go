package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_SingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		var req tokens.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "r1", req.RefreshToken)
		assert.Equal(t, "s1", req.SessionID)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"access_token": "a2", "expires_at": testNow.Add(time.Hour).Unix()},
		})
	}))
	defer srv.Close()

	store := newStore(t, nil)
	seed(t, store, tokens.Bundle{AccessToken: "a1", RefreshToken: "r1", SessionID: "s1"})
	co := NewCoordinator(srv.URL, store, WithCoordinatorClock(func() time.Time { return testNow }))

	const n = 20
	var started, wg sync.WaitGroup
	results := make([]tokens.Bundle, n)
	errs := make([]error, n)
	gate := make(chan struct{})
	for i := 0; i < n; i++ {
		started.Add(1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			<-gate
			results[i], errs[i] = co.Refresh(context.Background())
		}(i)
	}
	started.Wait()
	close(gate)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	// every caller joins the in-flight refresh before the server answers
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		require.Equal(t, "a2", results[i].AccessToken, "caller %d", i)
	}
	require.Equal(t, "a2", store.Load(context.Background()).AccessToken)
}

func TestCoordinator_MinInterval(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"access_token": "a2", "expires_in": 900}})
	}))
	defer srv.Close()

	now := testNow
	clock := func() time.Time { return now }
	store := newStore(t, clock)
	seed(t, store, tokens.Bundle{AccessToken: "a1", RefreshToken: "r1"})
	co := NewCoordinator(srv.URL, store, WithCoordinatorClock(clock))

	b, err := co.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, now.Unix()+900, b.ExpiresAt)

	now = now.Add(29 * time.Second)
	_, err = co.Refresh(context.Background())
	var re *RefreshError
	require.ErrorAs(t, err, &re)
	require.Equal(t, RefreshRateLimited, re.Kind)
	require.False(t, re.Fatal())
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	now = now.Add(2 * time.Second)
	_, err = co.Refresh(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCoordinator_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   RefreshKind
		fatal  bool
	}{
		{http.StatusBadRequest, RefreshExpired, true},
		{http.StatusUnauthorized, RefreshExpired, true},
		{http.StatusTooManyRequests, RefreshTooManyAttempts, true},
		{http.StatusInternalServerError, RefreshFailed, false},
		{http.StatusBadGateway, RefreshFailed, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			store := newStore(t, nil)
			seed(t, store, tokens.Bundle{AccessToken: "a1", RefreshToken: "r1"})
			_, err := NewCoordinator(srv.URL, store).Refresh(context.Background())

			var re *RefreshError
			require.ErrorAs(t, err, &re)
			require.Equal(t, tc.kind, re.Kind)
			require.Equal(t, tc.fatal, re.Fatal())
			// a failed refresh does not touch the stored bundle
			require.Equal(t, "a1", store.Load(context.Background()).AccessToken)
		})
	}
}

func TestCoordinator_MissingRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected")
	}))
	defer srv.Close()

	store := newStore(t, nil)
	seed(t, store, tokens.Bundle{AccessToken: "a1"})
	_, err := NewCoordinator(srv.URL, store).Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestCoordinator_KeepsAuthTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"access_token": "a2", "refresh_token": "r2", "expires_at": testNow.Add(time.Hour).Unix(), "session_id": "s1"},
		})
	}))
	defer srv.Close()

	now := testNow
	clock := func() time.Time { return now }
	store := newStore(t, clock)
	seed(t, store, tokens.Bundle{AccessToken: "a1", RefreshToken: "r1", SessionID: "s1"})

	now = now.Add(2 * time.Hour)
	b, err := NewCoordinator(srv.URL, store, WithCoordinatorClock(clock)).Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "r2", b.RefreshToken)
	require.Equal(t, testNow.UnixMilli(), b.AuthTimestamp)
	require.Equal(t, now.UnixMilli(), store.LastRefresh(context.Background()).UnixMilli())
}

func TestCoordinator_CallerCancelDoesNotAbortSharedRefresh(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"access_token": "a2"}})
	}))
	defer srv.Close()

	store := newStore(t, nil)
	seed(t, store, tokens.Bundle{AccessToken: "a1", RefreshToken: "r1"})
	co := NewCoordinator(srv.URL, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := co.Refresh(ctx)
		done <- err
	}()
	second := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := co.Refresh(context.Background())
		second <- err
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(release)
	require.NoError(t, <-second)
	require.Equal(t, "a2", store.Load(context.Background()).AccessToken)
}
