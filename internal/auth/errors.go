package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRefreshTokenExpired = errors.New("refresh token expired or invalid")
	ErrRefreshTooFrequent  = errors.New("token refresh attempted too frequently")
	ErrTooManyAttempts     = errors.New("too many refresh attempts")
	ErrRefreshFailed       = errors.New("failed to refresh token")
	ErrNoRefreshToken      = errors.New("no refresh token available")

	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNoResponse      = errors.New("no response from server")
	ErrTimeout         = errors.New("request timed out")
	ErrPasswordsDiffer = errors.New("passwords do not match")
)

// RefreshKind classifies refresh failures.
type RefreshKind int

const (
	RefreshFailed RefreshKind = iota
	RefreshExpired
	RefreshRateLimited
	RefreshTooManyAttempts
	RefreshMissing
)

func (k RefreshKind) String() string {
	switch k {
	case RefreshExpired:
		return "expired"
	case RefreshRateLimited:
		return "rate_limited"
	case RefreshTooManyAttempts:
		return "too_many_attempts"
	case RefreshMissing:
		return "missing"
	default:
		return "failed"
	}
}

// RefreshError is returned by Coordinator.Refresh.
type RefreshError struct {
	Kind RefreshKind
	Err  error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
	}
	return e.sentinel().Error()
}

func (e *RefreshError) sentinel() error {
	switch e.Kind {
	case RefreshExpired:
		return ErrRefreshTokenExpired
	case RefreshRateLimited:
		return ErrRefreshTooFrequent
	case RefreshTooManyAttempts:
		return ErrTooManyAttempts
	case RefreshMissing:
		return ErrNoRefreshToken
	default:
		return ErrRefreshFailed
	}
}

func (e *RefreshError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Fatal reports whether the refresh token can no longer be used and the user
// has to log in again.
func (e *RefreshError) Fatal() bool {
	switch e.Kind {
	case RefreshExpired, RefreshMissing, RefreshTooManyAttempts:
		return true
	}
	return false
}

func refreshKind(err error) RefreshKind {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Kind
	}
	return RefreshFailed
}

// ErrorKind classifies API failures for callers.
type ErrorKind string

const (
	KindBadRequest   ErrorKind = "bad_request"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindRateLimited  ErrorKind = "rate_limited"
	KindServer       ErrorKind = "server"
	KindUnavailable  ErrorKind = "unavailable"
	KindNoResponse   ErrorKind = "no_response"
	KindTimeout      ErrorKind = "timeout"
	KindSession      ErrorKind = "session"
	KindOther        ErrorKind = "other"
)

// APIError is the only error type the request pipeline returns. Message is
// safe to show to users.
type APIError struct {
	Status  int
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.Err }

var statusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request. Please check your input.",
	http.StatusUnauthorized:        "Your session has expired. Please log in again.",
	http.StatusForbidden:           "You do not have permission to perform this action.",
	http.StatusNotFound:            "The requested resource was not found.",
	http.StatusTooManyRequests:     "Too many requests. Please try again later.",
	http.StatusInternalServerError: "Server error. Please try again later.",
	http.StatusBadGateway:          "Bad gateway. The server is temporarily unavailable.",
	http.StatusServiceUnavailable:  "Service unavailable. Please try again later.",
	http.StatusGatewayTimeout:      "Gateway timeout. The server took too long to respond.",
}

const (
	msgNoResponse = "No response from server. Please check your connection."
	msgTimeout    = "Request timed out. Please try again."
	msgUnknown    = "An unexpected error occurred."
)

func statusKind(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return KindUnavailable
	case status >= 500:
		return KindServer
	}
	return KindOther
}

// statusError normalizes an HTTP failure. serverMsg is used only for statuses
// without a fixed message.
func statusError(status int, serverMsg string) *APIError {
	msg, ok := statusMessages[status]
	if !ok {
		msg = serverMsg
		if msg == "" {
			msg = msgUnknown
		}
	}
	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	}
	return &APIError{Status: status, Kind: statusKind(status), Message: msg, Err: sentinel}
}

func transportError(timeout bool) *APIError {
	if timeout {
		return &APIError{Kind: KindTimeout, Message: msgTimeout, Err: ErrTimeout}
	}
	return &APIError{Kind: KindNoResponse, Message: msgNoResponse, Err: ErrNoResponse}
}

func sessionError(err error) *APIError {
	msg := "Your session has expired. Please log in again."
	if refreshKind(err) == RefreshRateLimited {
		msg = "Session refresh is in progress. Please try again shortly."
	}
	return &APIError{Status: http.StatusUnauthorized, Kind: KindSession, Message: msg, Err: err}
}
