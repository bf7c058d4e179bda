package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

func NewService(r Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{repo: r, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateSession starts a login session for userID.
func (s *Service) CreateSession(ctx context.Context, userID string) (*Session, error) {
	rt, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		RefreshToken: rt,
		UserID:       userID,
		AuthTime:     now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ValidateRefresh returns the session if refresh token is valid and not
// expired, or nil.
func (s *Service) ValidateRefresh(ctx context.Context, refresh string) (*Session, error) {
	sess, err := s.repo.GetByRefresh(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if s.now().After(sess.ExpiresAt) {
		// cleanup expired session
		_ = s.repo.DeleteByRefresh(ctx, refresh)
		return nil, nil
	}
	return sess, nil
}

// Rotate exchanges refresh for a new refresh token in the same session. When
// sessionID is set it must match the session the token belongs to.
func (s *Service) Rotate(ctx context.Context, refresh, sessionID string) (*Session, error) {
	sess, err := s.ValidateRefresh(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidRefresh
	}
	if sessionID != "" && sessionID != sess.ID {
		return nil, ErrSessionMismatch
	}
	if err := s.repo.DeleteByRefresh(ctx, refresh); err != nil {
		return nil, err
	}

	rt, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	next := *sess
	next.RefreshToken = rt
	next.ExpiresAt = s.now().Add(s.ttl)
	if err := s.repo.Create(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) DeleteRefresh(ctx context.Context, refresh string) error {
	return s.repo.DeleteByRefresh(ctx, refresh)
}

// DeleteAll ends every session of userID.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int, error) {
	return s.repo.DeleteByUser(ctx, userID)
}
