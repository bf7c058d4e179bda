package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/impala/hetero/backend/go-services/internal/auth"
	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

type testAgent struct {
	router *gin.Engine
	store  *tokenstore.Store
	waker  *countingWaker
}

// newTestAgent runs the session agent against a live auth backend.
func newTestAgent(t *testing.T) *testAgent {
	t.Helper()
	backend := newTestBackend(t, nil)
	srv := httptest.NewServer(backend.router)
	t.Cleanup(srv.Close)

	store := tokenstore.New(tokenstore.NewMemoryRepository(), tokenstore.IdentityEncoder{})
	coord := auth.NewCoordinator(srv.URL, store, auth.WithMinRefreshInterval(0))
	client := auth.NewClient(srv.URL, store, coord, auth.NewNotifier(), auth.WithMaxNetworkRetries(0))
	svc := auth.NewService(client, coord, store)

	a := &testAgent{router: gin.New(), store: store, waker: &countingWaker{}}
	NewSessionHandler(svc, client, a.waker).Register(a.router.Group("/"))
	return a
}

func (a *testAgent) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestSessionAgent_LoginStatusLogout(t *testing.T) {
	a := newTestAgent(t)

	w := a.do("GET", "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())

	w = a.do("POST", "/api/v1/session/login", `{"email":"alice@example.com","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")

	w = a.do("POST", "/api/v1/session/login", `{"email":"alice@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("GET", "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, true, status["authenticated"])
	assert.NotEmpty(t, status["session_id"])
	assert.NotContains(t, w.Body.String(), "access_token")

	w = a.do("POST", "/api/v1/session/logout", `{"reason":"test"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, a.store.Load(t.Context()).Authenticated())
}

func TestSessionAgent_ProxyRefreshesRejectedToken(t *testing.T) {
	a := newTestAgent(t)
	require.Equal(t, http.StatusOK, a.do("POST", "/api/v1/session/login", `{"email":"alice@example.com","password":"correct-horse"}`).Code)
	before := a.store.Load(t.Context())

	w := a.do("GET", "/api/v1/proxy/api/v1/me", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "alice@example.com")

	// a token the backend no longer accepts is refreshed and the call retried
	require.NoError(t, a.store.Rotate(t.Context(), tokens.Bundle{AccessToken: "not-a-jwt"}))
	w = a.do("GET", "/api/v1/proxy/api/v1/me", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	after := a.store.Load(t.Context())
	assert.NotEqual(t, "not-a-jwt", after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, before.AuthTimestamp, after.AuthTimestamp)
}

func TestSessionAgent_ProxyWithoutSession(t *testing.T) {
	a := newTestAgent(t)
	w := a.do("GET", "/api/v1/proxy/api/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestSessionAgent_Wake(t *testing.T) {
	a := newTestAgent(t)
	require.Equal(t, http.StatusAccepted, a.do("POST", "/api/v1/session/wake", "").Code)
	assert.Equal(t, 1, a.waker.n)
}

func TestAgentStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, agentStatus(&auth.APIError{Status: http.StatusForbidden}))
	assert.Equal(t, http.StatusBadGateway, agentStatus(&auth.APIError{Kind: auth.KindNoResponse}))
	assert.Equal(t, http.StatusGatewayTimeout, agentStatus(&auth.APIError{Kind: auth.KindTimeout}))
	assert.Equal(t, http.StatusInternalServerError, agentStatus(assert.AnError))
}
