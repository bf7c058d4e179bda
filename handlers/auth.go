package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/impala/hetero/backend/go-services/internal/config"
	"github.com/impala/hetero/backend/go-services/internal/models"
	"github.com/impala/hetero/backend/go-services/internal/sessions"
	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/internal/users"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/middleware"
)

// rotateWithin is how close to expiry an access token has to be before
// protected responses carry a fresh one under new_tokens.
const rotateWithin = 2 * time.Minute

// RegisterRequest creates an account. New accounts always get the staff role.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	blacklist   sessions.Blacklist
	verifier    middleware.Verifier
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service, bl sessions.Blacklist) *AuthHandler {
	if bl == nil {
		bl = sessions.NewMemoryBlacklist()
	}
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s, blacklist: bl, verifier: middleware.NewJWTVerifier(cfg, bl)}
}

// Register routes under /auth and /api/v1. refreshLimit guards /auth/refresh
// and may be nil.
func (h *AuthHandler) Register(rg *gin.RouterGroup, refreshLimit gin.HandlerFunc) {
	authn := middleware.AuthMiddleware(h.verifier)

	a := rg.Group("/auth")
	a.POST("/register", h.RegisterUser)
	a.POST("/login", h.Login)
	if refreshLimit != nil {
		a.POST("/refresh", refreshLimit, h.Refresh)
	} else {
		a.POST("/refresh", h.Refresh)
	}
	a.POST("/logout", h.Logout)
	a.GET("/validate", authn, h.Validate)
	a.POST("/forgot-password", h.ForgotPassword)
	a.POST("/reset-password", h.ResetPassword)

	rg.GET("/api/v1/me", authn, h.Me)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

func (h *AuthHandler) grant(u *models.User, sess *sessions.Session) (tokens.Grant, error) {
	ttl := h.cfg.JWT.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, sess.ID, ttl)
	if err != nil {
		return tokens.Grant{}, err
	}
	return tokens.Grant{
		Bundle: tokens.Bundle{
			AccessToken:  access,
			RefreshToken: sess.RefreshToken,
			ExpiresAt:    time.Now().Add(ttl).Unix(),
			SessionID:    sess.ID,
		},
		ExpiresIn: int64(ttl.Seconds()),
	}, nil
}

func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}
	u, err := h.usersSvc.Register(c.Request.Context(), req.Email, req.Name, req.Password, "")
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		fail(c, http.StatusConflict, "Email is already registered")
		return
	case errors.Is(err, users.ErrWeakPassword):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Errorf("register failed: %v", err)
		fail(c, http.StatusInternalServerError, "Registration failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"user": u}})
}

// Login checks email and password and starts a refresh session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req tokens.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}
	ctx := c.Request.Context()
	u, err := h.usersSvc.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		logger.Errorf("login lookup failed: %v", err)
		fail(c, http.StatusInternalServerError, "Login failed")
		return
	}

	sess, err := h.sessionsSvc.CreateSession(ctx, u.ID)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		fail(c, http.StatusInternalServerError, "Login failed")
		return
	}
	g, err := h.grant(u, sess)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to create access token")
		return
	}
	logger.Infof("login user=%s session=%s", u.ID, sess.ID)
	c.JSON(http.StatusOK, tokens.LoginResponse{Success: true, Data: tokens.LoginData{User: u, Tokens: g}})
}

// Refresh rotates the refresh token and returns a new bundle.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req tokens.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "refresh_token is required")
		return
	}
	ctx := c.Request.Context()
	sess, err := h.sessionsSvc.Rotate(ctx, req.RefreshToken, req.SessionID)
	if errors.Is(err, sessions.ErrInvalidRefresh) || errors.Is(err, sessions.ErrSessionMismatch) {
		fail(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if err != nil {
		logger.Errorf("refresh failed: %v", err)
		fail(c, http.StatusInternalServerError, "Refresh failed")
		return
	}
	u, err := h.usersSvc.GetByID(ctx, sess.UserID)
	if err != nil || u == nil {
		_ = h.sessionsSvc.DeleteRefresh(ctx, sess.RefreshToken)
		fail(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	g, err := h.grant(u, sess)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to create access token")
		return
	}
	c.JSON(http.StatusOK, tokens.RefreshResponse{Data: g})
}

// Logout removes the refresh session (or all of the user's sessions) and
// blacklists the presented access token until it expires.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req tokens.LogoutRequest
	_ = c.ShouldBindJSON(&req)
	ctx := c.Request.Context()

	userID := ""
	if at, ok := middleware.BearerToken(c); ok {
		if claims, err := h.verifier.Verify(ctx, at); err == nil {
			userID, _ = claims["sub"].(string)
		}
		if exp, err := tokens.ExpiryFromJWT(at); err == nil {
			if err := h.blacklist.Add(ctx, at, time.Until(exp)); err != nil {
				fail(c, http.StatusInternalServerError, "failed to blacklist access token")
				return
			}
		}
	}

	if req.LogoutAll {
		if userID == "" && req.RefreshToken != "" {
			if sess, _ := h.sessionsSvc.ValidateRefresh(ctx, req.RefreshToken); sess != nil {
				userID = sess.UserID
			}
		}
		if userID != "" {
			n, err := h.sessionsSvc.DeleteAll(ctx, userID)
			if err != nil {
				fail(c, http.StatusInternalServerError, "failed to remove sessions")
				return
			}
			logger.Infof("logout user=%s sessions=%d reason=%q", userID, n, req.LogoutReason)
		}
	} else if req.RefreshToken != "" {
		if err := h.sessionsSvc.DeleteRefresh(ctx, req.RefreshToken); err != nil {
			fail(c, http.StatusInternalServerError, "failed to remove session")
			return
		}
		logger.Infof("logout session=%s reason=%q", req.SessionID, req.LogoutReason)
	}
	c.JSON(http.StatusOK, tokens.MessageResponse{Success: true, Message: "Logged out"})
}

func (h *AuthHandler) Validate(c *gin.Context) {
	claims := c.MustGet("claims").(map[string]interface{})
	c.JSON(http.StatusOK, gin.H{"valid": true, "user_id": claims["sub"], "session_id": claims["sid"]})
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req tokens.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email is required")
		return
	}
	resetURL := req.ResetURL
	if resetURL == "" {
		resetURL = h.cfg.API.ResetURL
	}
	if err := h.usersSvc.RequestReset(c.Request.Context(), req.Email, resetURL); err != nil {
		logger.Errorf("password reset request failed: %v", err)
		fail(c, http.StatusInternalServerError, "Could not send reset link")
		return
	}
	c.JSON(http.StatusOK, tokens.MessageResponse{Success: true, Message: "If the account exists, a reset link has been sent."})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req tokens.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "token, email and new password are required")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		fail(c, http.StatusBadRequest, "Passwords do not match")
		return
	}
	err := h.usersSvc.ResetPassword(c.Request.Context(), req.Token, req.Email, req.NewPassword)
	switch {
	case errors.Is(err, users.ErrInvalidResetToken), errors.Is(err, users.ErrWeakPassword):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Errorf("password reset failed: %v", err)
		fail(c, http.StatusInternalServerError, "Password reset failed")
		return
	}
	c.JSON(http.StatusOK, tokens.MessageResponse{Success: true, Message: "Password has been reset"})
}

// Me returns the current user. When the presented token is about to expire
// the response also carries a fresh access token under new_tokens.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := c.MustGet("claims").(map[string]interface{})
	sub, _ := claims["sub"].(string)
	u, err := h.usersSvc.GetByID(c.Request.Context(), sub)
	if err != nil {
		fail(c, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if u == nil {
		fail(c, http.StatusNotFound, "user not found")
		return
	}

	body := gin.H{"success": true, "data": gin.H{"user": u}}
	if at, ok := c.Get("access_token"); ok {
		if exp, err := tokens.ExpiryFromJWT(at.(string)); err == nil && time.Until(exp) < rotateWithin {
			sid, _ := claims["sid"].(string)
			if g, err := h.grant(u, &sessions.Session{ID: sid}); err == nil {
				g.RefreshToken = ""
				body[tokens.RotationField] = g
			}
		}
	}
	c.JSON(http.StatusOK, body)
}
