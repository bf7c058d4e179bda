package auth

import (
	"net/url"
	"sync"
	"time"

	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/metrics"
)

// Signal names an event the session emits to the hosting application.
type Signal string

const (
	SignalSessionExpired Signal = "auth:session-expired"
	SignalAutoLogout     Signal = "auth:auto-logout"
)

// Reason says why a session was ended without the user asking.
type Reason string

const (
	ReasonExpired      Reason = "expired"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonMaxDuration  Reason = "max_duration"
	ReasonAutoLogout   Reason = "auto_logout"
)

// LoginURL returns the login page URL carrying reason as a query marker.
func LoginURL(base string, reason Reason) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if reason == ReasonUnauthorized {
		q.Set("error", string(reason))
	} else {
		q.Set("session", string(reason))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Notifier delivers signals and forced logouts to the hosting application.
// The zero value is usable and drops everything.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[Signal][]func(Signal)
	logout   []func(Reason)
	after    func(time.Duration, func())
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn for sig.
func (n *Notifier) Subscribe(sig Signal, fn func(Signal)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers == nil {
		n.handlers = make(map[Signal][]func(Signal))
	}
	n.handlers[sig] = append(n.handlers[sig], fn)
}

// OnForceLogout registers fn to run whenever the session is ended.
func (n *Notifier) OnForceLogout(fn func(Reason)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logout = append(n.logout, fn)
}

func (n *Notifier) Emit(sig Signal) {
	if n == nil {
		return
	}
	n.mu.RLock()
	hs := append([]func(Signal){}, n.handlers[sig]...)
	n.mu.RUnlock()
	logger.Infof("auth: emitting %s", sig)
	for _, h := range hs {
		h(sig)
	}
}

// ForceLogout runs the logout callbacks after delay. A zero delay runs them
// synchronously.
func (n *Notifier) ForceLogout(reason Reason, delay time.Duration) {
	if n == nil {
		return
	}
	metrics.ForcedLogouts.WithLabelValues(string(reason)).Inc()
	n.mu.RLock()
	fns := append([]func(Reason){}, n.logout...)
	after := n.after
	n.mu.RUnlock()

	run := func() {
		logger.Warnf("auth: forced logout (%s)", reason)
		for _, fn := range fns {
			fn(reason)
		}
	}
	if delay <= 0 {
		run()
		return
	}
	if after == nil {
		after = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	after(delay, run)
}
