package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/metrics"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxNetworkRetries = 2
	DefaultLogoutDelay       = 100 * time.Millisecond
)

// Request is one call through the pipeline. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	Header http.Header

	// Timeout overrides the client timeout for this call.
	Timeout time.Duration
	// NoRetry disables network retries and the refresh-on-401 path.
	NoRetry bool
}

// Response is a successful backend response with any rotated token bundle
// removed from Body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Client attaches the stored bearer token to outbound calls and handles
// authorization failures centrally.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	store       *tokenstore.Store
	refresher   Refresher
	notifier    *Notifier
	timeout     time.Duration
	maxRetries  int
	logoutDelay time.Duration
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.timeout = d }
}

func WithMaxNetworkRetries(n int) ClientOption {
	return func(cl *Client) { cl.maxRetries = n }
}

func WithLogoutDelay(d time.Duration) ClientOption {
	return func(cl *Client) { cl.logoutDelay = d }
}

// WithSleep replaces the backoff sleeper, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) ClientOption {
	return func(cl *Client) { cl.sleep = fn }
}

func WithClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

func NewClient(baseURL string, store *tokenstore.Store, refresher Refresher, notifier *Notifier, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  http.DefaultClient,
		store:       store,
		refresher:   refresher,
		notifier:    notifier,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxNetworkRetries,
		logoutDelay: DefaultLogoutDelay,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isAuthEndpoint(path string) bool {
	p := strings.TrimRight(path, "/")
	return strings.HasSuffix(p, "/auth/login") || strings.HasSuffix(p, "/auth/register")
}

// Do sends req and returns the response or an *APIError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &APIError{Kind: KindOther, Message: msgUnknown, Err: err}
		}
		body = b
	}

	authCall := isAuthEndpoint(req.Path)
	retried := false
	netRetries := 0

	for {
		token := ""
		if !authCall {
			token = c.store.Load(ctx).AccessToken
		}

		status, header, data, err := c.send(ctx, req, body, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &APIError{Kind: KindNoResponse, Message: msgNoResponse, Err: ctx.Err()}
			}
			if !authCall && !req.NoRetry && netRetries < c.maxRetries {
				delay := time.Duration(1<<netRetries) * time.Second
				netRetries++
				metrics.RequestRetries.WithLabelValues("network").Inc()
				logger.Debugf("auth: %s %s failed (%v), retry %d in %s", req.Method, req.Path, err, netRetries, delay)
				if serr := c.sleep(ctx, delay); serr != nil {
					return nil, &APIError{Kind: KindNoResponse, Message: msgNoResponse, Err: serr}
				}
				continue
			}
			return nil, transportError(isTimeout(err))
		}

		if status >= 200 && status <= 299 {
			return &Response{Status: status, Header: header, Body: c.rotate(ctx, data)}, nil
		}

		serverMsg := messageFrom(data)
		if authCall {
			apiErr := statusError(status, serverMsg)
			if serverMsg != "" {
				apiErr.Message = serverMsg
			}
			return nil, apiErr
		}

		switch status {
		case http.StatusUnauthorized:
			if retried || req.NoRetry {
				return nil, statusError(status, serverMsg)
			}
			retried = true
			if cur := c.store.Load(ctx).AccessToken; cur != "" && cur != token {
				metrics.RequestRetries.WithLabelValues("rotated").Inc()
				continue
			}
			if _, rerr := c.refresher.Refresh(ctx); rerr != nil {
				return nil, c.refreshFailed(ctx, rerr)
			}
			metrics.RequestRetries.WithLabelValues("unauthorized").Inc()
			continue
		case http.StatusForbidden:
			c.store.Clear(ctx)
			c.notifier.ForceLogout(ReasonUnauthorized, 0)
			return nil, statusError(status, serverMsg)
		default:
			return nil, statusError(status, serverMsg)
		}
	}
}

func (c *Client) refreshFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &APIError{Kind: KindNoResponse, Message: msgNoResponse, Err: ctx.Err()}
	}
	if refreshKind(err) == RefreshRateLimited {
		return sessionError(err)
	}
	c.store.Clear(ctx)
	c.notifier.Emit(SignalSessionExpired)
	c.notifier.ForceLogout(ReasonExpired, c.logoutDelay)
	return sessionError(err)
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token string) (int, http.Header, []byte, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, u, rd)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	hr.Header.Set("Accept", "application/json")
	if token != "" {
		hr.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(hr)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, data, nil
}

// rotate persists a token bundle embedded in a successful response and
// returns the body without it.
func (c *Client) rotate(ctx context.Context, data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, []byte(tokens.RotationField)) {
		return data
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return data
	}
	raw, ok := obj[tokens.RotationField]
	if !ok {
		return data
	}
	delete(obj, tokens.RotationField)

	var g tokens.Grant
	if err := json.Unmarshal(raw, &g); err == nil {
		if b := g.Resolve(c.now()); b.AccessToken != "" {
			if err := c.store.Rotate(ctx, b); err != nil {
				logger.Warnf("auth: discarding rotated tokens: %v", err)
			} else {
				metrics.TokenRotations.Inc()
			}
		}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return out
}

func messageFrom(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: in})
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return &APIError{Status: resp.Status, Kind: KindOther, Message: msgUnknown, Err: err}
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	return c.call(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out interface{}) error {
	return c.call(ctx, http.MethodPut, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, http.MethodDelete, path, nil, out)
}
