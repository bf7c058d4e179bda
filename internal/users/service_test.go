package users

import (
	"context"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestService() *Service {
	s := NewService(NewMemoryUserRepository())
	s.cost = bcrypt.MinCost
	return s
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	u, err := svc.Register(ctx, "X@Example.com ", "X User", "correct-horse", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == "" || u.Email != "x@example.com" || u.Role != "staff" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "correct-horse" {
		t.Fatal("password stored in clear")
	}
	if u.CreatedAt.IsZero() || u.CreatedAt.After(u.UpdatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", u.CreatedAt, u.UpdatedAt)
	}

	if _, err := svc.Register(ctx, "x@example.com", "Dup", "correct-horse", ""); err != ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := svc.Register(ctx, "y@example.com", "Y", "short", ""); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	got, err := svc.Authenticate(ctx, "x@example.com", "correct-horse")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate() = %v, %v", got, err)
	}
	if _, err := svc.Authenticate(ctx, "x@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "whatever1"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, "x@example.com", "X", "old-password", ""); err != nil {
		t.Fatal(err)
	}

	var link string
	svc.Mailer = func(email, l string) { link = l }
	if err := svc.RequestReset(ctx, "x@example.com", "https://app.example.com/reset"); err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(link)
	if err != nil || u.Query().Get("token") == "" {
		t.Fatalf("unexpected reset link %q", link)
	}
	tok := u.Query().Get("token")

	if err := svc.ResetPassword(ctx, tok, "other@example.com", "new-password"); err != ErrInvalidResetToken {
		t.Fatalf("expected ErrInvalidResetToken for wrong email, got %v", err)
	}
	// tokens are single use, even after a failed attempt
	if err := svc.ResetPassword(ctx, tok, "x@example.com", "new-password"); err != ErrInvalidResetToken {
		t.Fatalf("expected consumed token, got %v", err)
	}

	link = ""
	if err := svc.RequestReset(ctx, "x@example.com", "https://app.example.com/reset"); err != nil {
		t.Fatal(err)
	}
	u, _ = url.Parse(link)
	if err := svc.ResetPassword(ctx, u.Query().Get("token"), "x@example.com", "new-password"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "x@example.com", "new-password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestResetTokenExpiry(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, "x@example.com", "X", "old-password", ""); err != nil {
		t.Fatal(err)
	}
	var link string
	svc.Mailer = func(email, l string) { link = l }
	if err := svc.RequestReset(ctx, "x@example.com", "https://app.example.com/reset"); err != nil {
		t.Fatal(err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	u, _ := url.Parse(link)
	if err := svc.ResetPassword(ctx, u.Query().Get("token"), "x@example.com", "new-password"); err != ErrInvalidResetToken {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestRequestResetUnknownEmail(t *testing.T) {
	svc := newTestService()
	called := false
	svc.Mailer = func(string, string) { called = true }
	if err := svc.RequestReset(context.Background(), "ghost@example.com", "https://x"); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("mailer must not run for unknown accounts")
	}
}
