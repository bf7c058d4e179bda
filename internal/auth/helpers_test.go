package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

func newStore(t *testing.T, now func() time.Time) *tokenstore.Store {
	t.Helper()
	if now == nil {
		now = func() time.Time { return testNow }
	}
	return tokenstore.New(tokenstore.NewMemoryRepository(), tokenstore.IdentityEncoder{}, tokenstore.WithNowFunc(now))
}

func seed(t *testing.T, s *tokenstore.Store, b tokens.Bundle) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), b))
}

// logoutRecorder captures forced logouts and signals.
type logoutRecorder struct {
	mu      sync.Mutex
	reasons []Reason
	signals []Signal
	delays  []time.Duration
}

func newRecordingNotifier() (*Notifier, *logoutRecorder) {
	rec := &logoutRecorder{}
	n := NewNotifier()
	n.OnForceLogout(func(r Reason) {
		rec.mu.Lock()
		rec.reasons = append(rec.reasons, r)
		rec.mu.Unlock()
	})
	for _, sig := range []Signal{SignalSessionExpired, SignalAutoLogout} {
		n.Subscribe(sig, func(s Signal) {
			rec.mu.Lock()
			rec.signals = append(rec.signals, s)
			rec.mu.Unlock()
		})
	}
	n.after = func(d time.Duration, f func()) {
		rec.mu.Lock()
		rec.delays = append(rec.delays, d)
		rec.mu.Unlock()
		f()
	}
	return n, rec
}

func (r *logoutRecorder) Reasons() []Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reason(nil), r.reasons...)
}

func (r *logoutRecorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

func (r *logoutRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// stubRefresher returns canned results in order, repeating the last one.
type stubRefresher struct {
	mu      sync.Mutex
	results []error
	calls   int
	onCall  func()
}

func (s *stubRefresher) Refresh(ctx context.Context) (tokens.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.results) == 0 {
		return tokens.Bundle{}, nil
	}
	i := s.calls - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return tokens.Bundle{}, s.results[i]
}

func (s *stubRefresher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
