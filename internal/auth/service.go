package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/models"
	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
)

const (
	DefaultLogoutTimeout   = 5 * time.Second
	DefaultValidateTimeout = 10 * time.Second
)

// Service is the session API the hosting application calls.
type Service struct {
	client          *Client
	coordinator     *Coordinator
	store           *tokenstore.Store
	resetURL        string
	logoutTimeout   time.Duration
	validateTimeout time.Duration
	now             func() time.Time
}

type ServiceOption func(*Service)

// WithResetURL sets the default link target for password reset mails.
func WithResetURL(u string) ServiceOption {
	return func(s *Service) { s.resetURL = u }
}

func WithLogoutTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.logoutTimeout = d }
}

func WithValidateTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.validateTimeout = d }
}

func NewService(client *Client, coordinator *Coordinator, store *tokenstore.Store, opts ...ServiceOption) *Service {
	s := &Service{
		client:          client,
		coordinator:     coordinator,
		store:           store,
		logoutTimeout:   DefaultLogoutTimeout,
		validateTimeout: DefaultValidateTimeout,
		now:             time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login authenticates with email and password and starts a new session.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	var resp tokens.LoginResponse
	if err := s.client.Post(ctx, "/auth/login", tokens.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Login failed. Please check your credentials."
		}
		return nil, &APIError{Status: http.StatusUnauthorized, Kind: KindUnauthorized, Message: msg, Err: ErrUnauthorized}
	}
	b := resp.Data.Tokens.Resolve(s.now())
	if b.AccessToken == "" {
		return nil, &APIError{Kind: KindOther, Message: "Login response did not include a token."}
	}

	s.coordinator.Reset()
	if err := s.store.Save(ctx, b); err != nil {
		return nil, &APIError{Kind: KindOther, Message: msgUnknown, Err: err}
	}
	s.store.SaveUser(ctx, resp.Data.User)
	logger.Infof("auth: logged in as %s", email)
	return resp.Data.User, nil
}

// Logout ends the session on the server when possible and always clears the
// local store.
func (s *Service) Logout(ctx context.Context, reason string, all bool) {
	b := s.store.Load(ctx)
	if b.Authenticated() {
		_, err := s.client.Do(ctx, Request{
			Method:  http.MethodPost,
			Path:    "/auth/logout",
			Body:    tokens.LogoutRequest{RefreshToken: b.RefreshToken, SessionID: b.SessionID, LogoutReason: reason, LogoutAll: all},
			Timeout: s.logoutTimeout,
			NoRetry: true,
		})
		if err != nil {
			logger.Warnf("auth: server logout failed: %v", err)
		}
	}
	s.store.Clear(ctx)
	s.coordinator.Reset()
}

// Validate asks the backend whether the stored access token is still good.
func (s *Service) Validate(ctx context.Context) bool {
	if !s.IsAuthenticated(ctx) {
		return false
	}
	_, err := s.client.Do(ctx, Request{
		Method:  http.MethodGet,
		Path:    "/auth/validate",
		Timeout: s.validateTimeout,
		NoRetry: true,
	})
	return err == nil
}

// ForgotPassword requests a reset mail. An empty resetURL uses the configured
// default.
func (s *Service) ForgotPassword(ctx context.Context, email, resetURL string) (string, error) {
	if resetURL == "" {
		resetURL = s.resetURL
	}
	var resp tokens.MessageResponse
	if err := s.client.Post(ctx, "/auth/forgot-password", tokens.ForgotPasswordRequest{Email: email, ResetURL: resetURL}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, email, newPassword, confirmPassword string) (string, error) {
	if newPassword != confirmPassword {
		return "", &APIError{Status: http.StatusBadRequest, Kind: KindBadRequest, Message: "Passwords do not match.", Err: ErrPasswordsDiffer}
	}
	req := tokens.ResetPasswordRequest{Token: token, Email: email, NewPassword: newPassword, ConfirmPassword: confirmPassword}
	var resp tokens.MessageResponse
	if err := s.client.Post(ctx, "/auth/reset-password", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (s *Service) Refresh(ctx context.Context) (tokens.Bundle, error) {
	return s.coordinator.Refresh(ctx)
}

func (s *Service) CurrentUser(ctx context.Context) (*models.User, bool) {
	return s.store.LoadUser(ctx)
}

func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.store.Load(ctx).Authenticated()
}

// Session returns the stored bundle.
func (s *Service) Session(ctx context.Context) tokens.Bundle {
	return s.store.Load(ctx)
}
