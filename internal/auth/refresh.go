package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshTimeout     = 10 * time.Second
	DefaultRefreshMinInterval = 30 * time.Second
	refreshPath               = "/auth/refresh"
)

// Refresher exchanges the stored refresh token for a new bundle.
type Refresher interface {
	Refresh(ctx context.Context) (tokens.Bundle, error)
}

// Coordinator runs at most one token refresh at a time. Callers arriving
// while a refresh is in flight share its outcome.
type Coordinator struct {
	baseURL     string
	httpClient  *http.Client
	store       *tokenstore.Store
	timeout     time.Duration
	minInterval time.Duration
	now         func() time.Time

	group       singleflight.Group
	mu          sync.Mutex
	lastRefresh time.Time
}

var _ Refresher = (*Coordinator)(nil)

type CoordinatorOption func(*Coordinator)

func WithCoordinatorHTTPClient(c *http.Client) CoordinatorOption {
	return func(co *Coordinator) { co.httpClient = c }
}

func WithRefreshTimeout(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.timeout = d }
}

func WithMinRefreshInterval(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.minInterval = d }
}

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(co *Coordinator) { co.now = now }
}

func NewCoordinator(baseURL string, store *tokenstore.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
		store:       store,
		timeout:     DefaultRefreshTimeout,
		minInterval: DefaultRefreshMinInterval,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refresh exchanges the stored refresh token for a new access token. The
// network call is not bound to ctx, so one caller giving up does not fail
// the others waiting on the same refresh.
func (c *Coordinator) Refresh(ctx context.Context) (tokens.Bundle, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return tokens.Bundle{}, res.Err
		}
		return res.Val.(tokens.Bundle), nil
	case <-ctx.Done():
		return tokens.Bundle{}, ctx.Err()
	}
}

// Reset forgets the last refresh time. Called when a new session starts.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.lastRefresh = time.Time{}
	c.mu.Unlock()
}

func (c *Coordinator) last(ctx context.Context) time.Time {
	c.mu.Lock()
	last := c.lastRefresh
	c.mu.Unlock()
	if stored := c.store.LastRefresh(ctx); stored.After(last) {
		last = stored
	}
	return last
}

func (c *Coordinator) refresh(ctx context.Context) (tokens.Bundle, error) {
	if last := c.last(ctx); !last.IsZero() && c.now().Sub(last) < c.minInterval {
		metrics.TokenRefreshes.WithLabelValues(RefreshRateLimited.String()).Inc()
		return tokens.Bundle{}, &RefreshError{Kind: RefreshRateLimited}
	}

	b, err := c.exchange(ctx)
	if err != nil {
		kind := refreshKind(err)
		metrics.TokenRefreshes.WithLabelValues(kind.String()).Inc()
		logger.Warnf("auth: token refresh failed (%s): %v", kind, err)
		return tokens.Bundle{}, err
	}

	c.mu.Lock()
	c.lastRefresh = c.now()
	c.mu.Unlock()
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logger.Debugf("auth: token refreshed for session %s", b.SessionID)
	return b, nil
}

func (c *Coordinator) exchange(ctx context.Context) (tokens.Bundle, error) {
	cur := c.store.Load(ctx)
	if cur.RefreshToken == "" {
		return tokens.Bundle{}, &RefreshError{Kind: RefreshMissing}
	}

	body, err := json.Marshal(tokens.RefreshRequest{RefreshToken: cur.RefreshToken, SessionID: cur.SessionID})
	if err != nil {
		return tokens.Bundle{}, &RefreshError{Kind: RefreshFailed, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return tokens.Bundle{}, &RefreshError{Kind: RefreshFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokens.Bundle{}, &RefreshError{Kind: RefreshFailed, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return tokens.Bundle{}, &RefreshError{Kind: RefreshExpired}
	case resp.StatusCode == http.StatusTooManyRequests:
		return tokens.Bundle{}, &RefreshError{Kind: RefreshTooManyAttempts}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return tokens.Bundle{}, &RefreshError{Kind: RefreshFailed, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out tokens.RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokens.Bundle{}, &RefreshError{Kind: RefreshFailed, Err: err}
	}
	next := out.Data.Resolve(c.now())
	if next.AccessToken == "" {
		return tokens.Bundle{}, &RefreshError{Kind: RefreshFailed, Err: errors.New("response carried no access token")}
	}

	if err := c.store.Rotate(ctx, next); err != nil {
		// logged out while the refresh was in flight
		return tokens.Bundle{}, &RefreshError{Kind: RefreshMissing, Err: err}
	}
	return c.store.Load(ctx), nil
}
