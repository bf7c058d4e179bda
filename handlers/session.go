package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/impala/hetero/backend/go-services/internal/auth"
	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
)

// Waker nudges the maintenance loop into an immediate check.
type Waker interface {
	Wake()
}

// SessionHandler exposes the local session agent: session status, login and
// logout, and an authenticated pass-through to the backend.
type SessionHandler struct {
	svc    *auth.Service
	client *auth.Client
	waker  Waker
}

func NewSessionHandler(svc *auth.Service, client *auth.Client, waker Waker) *SessionHandler {
	return &SessionHandler{svc: svc, client: client, waker: waker}
}

// SessionLogoutRequest ends the agent's session.
type SessionLogoutRequest struct {
	Reason string `json:"reason"`
	All    bool   `json:"all"`
}

func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/api/v1/session")
	s.GET("", h.Status)
	s.POST("/login", h.Login)
	s.POST("/logout", h.Logout)
	s.POST("/wake", h.Wake)

	rg.GET("/api/v1/proxy/*path", h.Proxy)
}

// agentStatus maps a pipeline error onto the status the agent answers with.
func agentStatus(err error) int {
	var apiErr *auth.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	if apiErr.Status != 0 {
		return apiErr.Status
	}
	switch apiErr.Kind {
	case auth.KindNoResponse:
		return http.StatusBadGateway
	case auth.KindTimeout:
		return http.StatusGatewayTimeout
	case auth.KindSession:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *SessionHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	b := h.svc.Session(ctx)
	if !b.Authenticated() {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	body := gin.H{
		"authenticated": true,
		"session_id":    b.SessionID,
		"expires_at":    b.ExpiresAt,
	}
	if t := b.AuthTime(); !t.IsZero() {
		body["authenticated_at"] = t.UTC()
	}
	if u, ok := h.svc.CurrentUser(ctx); ok {
		body["user"] = u
	}
	c.JSON(http.StatusOK, body)
}

func (h *SessionHandler) Login(c *gin.Context) {
	var req tokens.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}
	u, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, agentStatus(err), err.Error())
		return
	}
	if h.waker != nil {
		h.waker.Wake()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"user": u}})
}

func (h *SessionHandler) Logout(c *gin.Context) {
	var req SessionLogoutRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "user"
	}
	h.svc.Logout(c.Request.Context(), req.Reason, req.All)
	c.JSON(http.StatusOK, tokens.MessageResponse{Success: true, Message: "Logged out"})
}

func (h *SessionHandler) Wake(c *gin.Context) {
	if h.waker != nil {
		h.waker.Wake()
	}
	c.Status(http.StatusAccepted)
}

// Proxy forwards a GET to the backend with the stored bearer token.
func (h *SessionHandler) Proxy(c *gin.Context) {
	path := "/" + strings.TrimLeft(c.Param("path"), "/")
	resp, err := h.client.Do(c.Request.Context(), auth.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  c.Request.URL.Query(),
	})
	if err != nil {
		logger.Debugf("proxy %s: %v", path, err)
		fail(c, agentStatus(err), err.Error())
		return
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Data(resp.Status, ct, resp.Body)
}
