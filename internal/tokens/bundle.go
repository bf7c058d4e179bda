package tokens

import "time"

// Bundle is the Session Token Bundle persisted by the Token Store.
type Bundle struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`     // unix seconds
	SessionID     string `json:"session_id,omitempty"`
	AuthTimestamp int64  `json:"auth_timestamp,omitempty"` // unix millis, set once per login
}

// Authenticated reports whether the bundle carries an access token.
func (b Bundle) Authenticated() bool {
	return b.AccessToken != ""
}

// HasTokens reports whether both the access and the refresh token are present.
func (b Bundle) HasTokens() bool {
	return b.AccessToken != "" && b.RefreshToken != ""
}

// Expiry returns the access token expiry, or the zero time when unknown.
func (b Bundle) Expiry() time.Time {
	if b.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(b.ExpiresAt, 0)
}

// AuthTime returns the login time, or the zero time when unknown.
func (b Bundle) AuthTime() time.Time {
	if b.AuthTimestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(b.AuthTimestamp)
}

// Merge applies a refreshed bundle on top of b. The access token is always
// replaced; the expiry, refresh token and session id only when next carries
// them. AuthTimestamp is never taken from next.
func (b Bundle) Merge(next Bundle) Bundle {
	out := b
	out.AccessToken = next.AccessToken
	if next.ExpiresAt != 0 {
		out.ExpiresAt = next.ExpiresAt
	}
	if next.RefreshToken != "" {
		out.RefreshToken = next.RefreshToken
	}
	if next.SessionID != "" {
		out.SessionID = next.SessionID
	}
	return out
}
