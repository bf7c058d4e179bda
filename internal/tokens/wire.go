package tokens

import (
	"time"

	"github.com/impala/hetero/backend/go-services/internal/models"
)

// RotationField is the top-level member under which the backend may embed a
// fresh token bundle in any successful response.
const RotationField = "new_tokens"

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginData struct {
	User   *models.User `json:"user"`
	Tokens Grant        `json:"tokens"`
}

type LoginResponse struct {
	Success bool      `json:"success"`
	Data    LoginData `json:"data"`
	Message string    `json:"message,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	SessionID    string `json:"session_id"`
}

type RefreshResponse struct {
	Data Grant `json:"data"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
	LogoutReason string `json:"logout_reason"`
	LogoutAll    bool   `json:"logout_all"`
}

type ForgotPasswordRequest struct {
	Email    string `json:"email" binding:"required"`
	ResetURL string `json:"reset_url"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token" binding:"required"`
	Email           string `json:"email" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Grant is a token bundle as sent by the backend. Some endpoints send a
// relative expires_in instead of expires_at.
type Grant struct {
	Bundle
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// Resolve returns the bundle with ExpiresAt filled from expires_in or, failing
// that, from the access token's exp claim.
func (g Grant) Resolve(now time.Time) Bundle {
	b := g.Bundle
	if b.ExpiresAt != 0 {
		return b
	}
	if g.ExpiresIn > 0 {
		b.ExpiresAt = now.Add(time.Duration(g.ExpiresIn) * time.Second).Unix()
		return b
	}
	if exp, err := ExpiryFromJWT(b.AccessToken); err == nil {
		b.ExpiresAt = exp.Unix()
	}
	return b
}
