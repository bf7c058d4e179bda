package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginURL(t *testing.T) {
	require.Equal(t, "/login?session=expired", LoginURL("/login", ReasonExpired))
	require.Equal(t, "/login?error=unauthorized", LoginURL("/login", ReasonUnauthorized))
	require.Equal(t, "/login?session=max_duration", LoginURL("/login", ReasonMaxDuration))
	require.Equal(t, "https://app.example.com/login?session=auto_logout", LoginURL("https://app.example.com/login", ReasonAutoLogout))
}

func TestNotifier_DelayedLogout(t *testing.T) {
	n := NewNotifier()
	got := make(chan Reason, 1)
	n.OnForceLogout(func(r Reason) { got <- r })

	start := time.Now()
	n.ForceLogout(ReasonExpired, 50*time.Millisecond)
	select {
	case r := <-got:
		require.Equal(t, ReasonExpired, r)
		require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("logout callback did not run")
	}
}

func TestNotifier_NilIsSafe(t *testing.T) {
	var n *Notifier
	require.NotPanics(t, func() {
		n.Emit(SignalAutoLogout)
		n.ForceLogout(ReasonExpired, 0)
	})
}

func TestRefreshError_Is(t *testing.T) {
	err := error(&RefreshError{Kind: RefreshTooManyAttempts})
	require.ErrorIs(t, err, ErrTooManyAttempts)
	require.NotErrorIs(t, err, ErrRefreshFailed)
	require.Equal(t, RefreshTooManyAttempts, refreshKind(err))
	require.Equal(t, RefreshFailed, refreshKind(ErrTimeout))
}
