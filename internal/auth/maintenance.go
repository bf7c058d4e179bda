package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
)

const (
	DefaultMaintenanceInterval = 60 * time.Second
	DefaultMaxSessionDuration  = 8 * time.Hour
	DefaultMaxRefreshFailures  = 3
)

// Maintainer refreshes the session before it expires and ends it once it
// outlives the absolute session ceiling. Run one loop per Maintainer.
type Maintainer struct {
	store       *tokenstore.Store
	refresher   Refresher
	notifier    *Notifier
	interval    time.Duration
	maxDuration time.Duration
	maxFailures int
	now         func() time.Time

	wake     chan struct{}
	failures int
}

type MaintainerOption func(*Maintainer)

func WithInterval(d time.Duration) MaintainerOption {
	return func(m *Maintainer) { m.interval = d }
}

func WithMaxSessionDuration(d time.Duration) MaintainerOption {
	return func(m *Maintainer) { m.maxDuration = d }
}

func WithMaxRefreshFailures(n int) MaintainerOption {
	return func(m *Maintainer) { m.maxFailures = n }
}

func WithMaintainerClock(now func() time.Time) MaintainerOption {
	return func(m *Maintainer) { m.now = now }
}

func NewMaintainer(store *tokenstore.Store, refresher Refresher, notifier *Notifier, opts ...MaintainerOption) *Maintainer {
	m := &Maintainer{
		store:       store,
		refresher:   refresher,
		notifier:    notifier,
		interval:    DefaultMaintenanceInterval,
		maxDuration: DefaultMaxSessionDuration,
		maxFailures: DefaultMaxRefreshFailures,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Wake requests an immediate check, e.g. when the host becomes active again.
func (m *Maintainer) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is done, the returned dispose function is
// called, or the session is ended after repeated refresh failures. Dispose
// may be called more than once; it returns without waiting for the loop.
func (m *Maintainer) Start(ctx context.Context) (dispose func()) {
	ctx, cancel := context.WithCancel(ctx)

	changes, err := m.store.Watch(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrWatchUnsupported) {
			logger.Warnf("auth: watching session storage: %v", err)
		}
		changes = nil
	}

	go m.run(ctx, changes)

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (m *Maintainer) run(ctx context.Context, changes <-chan tokenstore.Change) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	logger.Debugf("auth: session maintenance started (every %s)", m.interval)
	defer logger.Debugf("auth: session maintenance stopped")

	if m.tick(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tick(ctx) {
				return
			}
		case <-m.wake:
			if m.tick(ctx) {
				return
			}
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			m.onChange(ctx, c)
		}
	}
}

func (m *Maintainer) onChange(ctx context.Context, c tokenstore.Change) {
	if c.Key != tokenstore.KeyAccessToken || !c.Deleted {
		return
	}
	if m.store.Load(ctx).Authenticated() {
		// a newer login already wrote the storage again
		logger.Debugf("auth: ignoring stale access_token delete")
		return
	}
	logger.Infof("auth: session cleared by another process")
	m.failures = 0
	m.store.Clear(ctx)
	m.notifier.ForceLogout(ReasonExpired, 0)
}

// tick runs one maintenance check and reports whether the loop should stop.
func (m *Maintainer) tick(ctx context.Context) bool {
	b := m.store.Load(ctx)
	if !b.HasTokens() {
		return false
	}

	if at := b.AuthTime(); !at.IsZero() && m.now().Sub(at) > m.maxDuration {
		logger.Infof("auth: session %s exceeded %s", b.SessionID, m.maxDuration)
		m.failures = 0
		m.store.Clear(ctx)
		m.notifier.ForceLogout(ReasonMaxDuration, 0)
		return false
	}

	if !m.store.IsExpiringSoon(ctx) {
		return false
	}

	_, err := m.refresher.Refresh(ctx)
	if err == nil {
		m.failures = 0
		return false
	}
	if ctx.Err() != nil {
		return true
	}

	var re *RefreshError
	isRefreshErr := errors.As(err, &re)
	if isRefreshErr && re.Kind == RefreshRateLimited {
		return false
	}
	m.failures++
	logger.Warnf("auth: proactive refresh failed (%d/%d): %v", m.failures, m.maxFailures, err)
	if (isRefreshErr && re.Fatal()) || m.failures >= m.maxFailures {
		m.failures = 0
		m.store.Clear(ctx)
		m.notifier.Emit(SignalAutoLogout)
		m.notifier.ForceLogout(ReasonAutoLogout, 0)
		return true
	}
	return false
}
