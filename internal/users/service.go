package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/models"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("reset token invalid or expired")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const (
	minPasswordLen = 8
	resetTokenTTL  = time.Hour
)

type resetToken struct {
	userID    string
	expiresAt time.Time
}

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
	cost int
	now  func() time.Time

	mu     sync.Mutex
	resets map[string]resetToken
	// Mailer delivers reset links. Defaults to logging the link.
	Mailer func(email, link string)
}

func NewService(r UserRepository) *Service {
	return &Service{
		repo:   r,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		resets: map[string]resetToken{},
		Mailer: func(email, link string) {
			logger.Infof("password reset link for %s: %s", email, link)
		},
	}
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, name, password, role string) (*models.User, error) {
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = "staff"
	}
	return s.repo.Create(ctx, &models.User{Email: email, Name: name, Role: role, PasswordHash: string(hash)})
}

// Authenticate checks email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

// RequestReset issues a reset token and mails resetURL?token=...&email=...
// Unknown emails are ignored so callers cannot probe for accounts.
func (s *Service) RequestReset(ctx context.Context, email, resetURL string) error {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		logger.Debugf("password reset requested for unknown email")
		return nil
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	tok := hex.EncodeToString(b)

	s.mu.Lock()
	s.resets[tok] = resetToken{userID: u.ID, expiresAt: s.now().Add(resetTokenTTL)}
	s.mu.Unlock()

	q := url.Values{"token": {tok}, "email": {u.Email}}
	s.Mailer(u.Email, resetURL+"?"+q.Encode())
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, email, password string) error {
	if len(password) < minPasswordLen {
		return ErrWeakPassword
	}
	s.mu.Lock()
	rt, ok := s.resets[token]
	if ok {
		delete(s.resets, token)
	}
	s.mu.Unlock()
	if !ok || s.now().After(rt.expiresAt) {
		return ErrInvalidResetToken
	}

	u, err := s.repo.GetByID(ctx, rt.userID)
	if err != nil {
		return err
	}
	if u == nil || normalizeEmail(u.Email) != normalizeEmail(email) {
		return ErrInvalidResetToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, u.ID, string(hash))
}
