package tokenstore

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/impala/hetero/backend/go-services/internal/models"
	"github.com/impala/hetero/backend/go-services/internal/tokens"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/rs/zerolog"
)

// Storage keys.
const (
	KeyAuthData      = "auth_data"
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyExpiresAt     = "expires_at"
	KeySessionID     = "session_id"
	KeyAuthTimestamp = "auth_timestamp"
	KeyLastRefresh   = "last_refresh"
	KeyUser          = "user"
	KeyUserEnc       = "user_enc"
	KeyRole          = "role"
)

var allKeys = []string{
	KeyAuthData, KeyAccessToken, KeyRefreshToken, KeyExpiresAt, KeySessionID,
	KeyAuthTimestamp, KeyLastRefresh, KeyUser, KeyUserEnc, KeyRole,
}

// DefaultExpiryThreshold is how close to expiry an access token counts as
// expiring soon.
// sessionScopedKeys belong to one login and are dropped when a new one starts.
var sessionScopedKeys = []string{KeyUser, KeyUserEnc, KeyRole, KeyLastRefresh}

const DefaultExpiryThreshold = 5 * time.Minute

// Store persists the session token bundle. Storage failures are logged and
// never returned to callers, so a broken backend degrades to "logged out"
// instead of breaking the request path.
type Store struct {
	mu        sync.Mutex
	repo      Repository
	session   Repository
	enc       Encoder
	now       func() time.Time
	threshold time.Duration
	log       zerolog.Logger
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithExpiryThreshold(d time.Duration) Option {
	return func(s *Store) { s.threshold = d }
}

// WithSessionStorage sets the session-scoped repository that mirrors the
// session id and auth timestamp. Defaults to a private in-memory repository.
func WithSessionStorage(r Repository) Option {
	return func(s *Store) { s.session = r }
}

// New creates a Store over repo. A nil encoder stores records unencoded.
func New(repo Repository, enc Encoder, opts ...Option) *Store {
	if enc == nil {
		enc = IdentityEncoder{}
	}
	s := &Store{
		repo:      repo,
		enc:       enc,
		now:       time.Now,
		threshold: DefaultExpiryThreshold,
		log:       logger.With("tokenstore"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.session == nil {
		s.session = NewMemoryRepository()
	}
	return s
}

// Save persists a bundle received at login. A session id is generated when
// b has none and AuthTimestamp is stamped with the current time. The bundle
// keys are overwritten in place and the previous session's profile and
// refresh marker are dropped; access_token is never deleted, so peers
// watching the storage do not see a logout.
func (s *Store) Save(ctx context.Context, b tokens.Bundle) error {
	if b.AccessToken == "" {
		return ErrMissingAccessToken
	}
	if b.SessionID == "" {
		b.SessionID = uuid.NewString()
	}
	b.AuthTimestamp = s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range sessionScopedKeys {
		s.del(ctx, s.repo, k)
	}
	s.write(ctx, b)
	return nil
}

// Rotate merges a refreshed bundle into the stored session and records the
// refresh time. AuthTimestamp is preserved. Returns ErrNoSession when the
// session was cleared in the meantime.
func (s *Store) Rotate(ctx context.Context, next tokens.Bundle) error {
	if next.AccessToken == "" {
		return ErrMissingAccessToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.load(ctx)
	if !cur.Authenticated() {
		return ErrNoSession
	}
	merged := cur.Merge(next)
	if merged.AuthTimestamp == 0 {
		merged.AuthTimestamp = s.now().UnixMilli()
	}
	s.write(ctx, merged)
	s.set(ctx, s.repo, KeyLastRefresh, strconv.FormatInt(s.now().UnixMilli(), 10))
	return nil
}

func (s *Store) write(ctx context.Context, b tokens.Bundle) {
	raw, err := json.Marshal(b)
	if err == nil {
		var enc string
		enc, err = s.enc.Encode(raw)
		if err == nil {
			s.set(ctx, s.repo, KeyAuthData, enc)
		}
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("skipping encoded auth record")
		s.del(ctx, s.repo, KeyAuthData)
	}

	s.set(ctx, s.repo, KeyAccessToken, b.AccessToken)
	if b.RefreshToken != "" {
		s.set(ctx, s.repo, KeyRefreshToken, b.RefreshToken)
	} else {
		s.del(ctx, s.repo, KeyRefreshToken)
	}
	if b.ExpiresAt != 0 {
		s.set(ctx, s.repo, KeyExpiresAt, strconv.FormatInt(b.ExpiresAt, 10))
	} else {
		s.del(ctx, s.repo, KeyExpiresAt)
	}
	ts := strconv.FormatInt(b.AuthTimestamp, 10)
	s.set(ctx, s.repo, KeySessionID, b.SessionID)
	s.set(ctx, s.repo, KeyAuthTimestamp, ts)
	s.set(ctx, s.session, KeySessionID, b.SessionID)
	s.set(ctx, s.session, KeyAuthTimestamp, ts)
}

// Load returns the stored bundle, preferring the encoded record. The zero
// Bundle is returned when nothing is stored.
func (s *Store) Load(ctx context.Context) tokens.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) tokens.Bundle {
	if enc, ok := s.get(ctx, s.repo, KeyAuthData); ok {
		var b tokens.Bundle
		raw, err := s.enc.Decode(enc)
		if err == nil {
			err = json.Unmarshal(raw, &b)
		}
		if err == nil && b.AccessToken != "" {
			return b
		}
		s.log.Debug().Err(err).Msg("encoded auth record unusable, reading plain fields")
	}

	var b tokens.Bundle
	b.AccessToken, _ = s.get(ctx, s.repo, KeyAccessToken)
	b.RefreshToken, _ = s.get(ctx, s.repo, KeyRefreshToken)
	b.SessionID, _ = s.get(ctx, s.repo, KeySessionID)
	b.ExpiresAt = s.getInt(ctx, s.repo, KeyExpiresAt)
	b.AuthTimestamp = s.getInt(ctx, s.repo, KeyAuthTimestamp)
	if b.SessionID == "" {
		b.SessionID, _ = s.get(ctx, s.session, KeySessionID)
	}
	if b.AuthTimestamp == 0 {
		b.AuthTimestamp = s.getInt(ctx, s.session, KeyAuthTimestamp)
	}
	return b
}

// Clear removes every session key from both storages.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range allKeys {
		s.del(ctx, s.repo, k)
		s.del(ctx, s.session, k)
	}
}

// IsExpiringSoon reports whether the access token expires within the
// configured threshold. An unknown expiry counts as expiring.
func (s *Store) IsExpiringSoon(ctx context.Context) bool {
	b := s.Load(ctx)
	if b.ExpiresAt == 0 {
		return true
	}
	return b.Expiry().Sub(s.now()) < s.threshold
}

// LastRefresh returns the time of the last successful rotation, or the zero
// time.
func (s *Store) LastRefresh(ctx context.Context) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.getInt(ctx, s.repo, KeyLastRefresh)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SaveUser caches the signed-in user's profile and role.
func (s *Store) SaveUser(ctx context.Context, u *models.User) {
	if u == nil {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode user profile")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(ctx, s.repo, KeyUser, string(raw))
	if enc, err := s.enc.Encode(raw); err == nil {
		s.set(ctx, s.repo, KeyUserEnc, enc)
	}
	if u.Role != "" {
		s.set(ctx, s.repo, KeyRole, u.Role)
	}
}

// LoadUser returns the cached profile, preferring the encoded copy.
func (s *Store) LoadUser(ctx context.Context) (*models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates [][]byte
	if enc, ok := s.get(ctx, s.repo, KeyUserEnc); ok {
		if raw, err := s.enc.Decode(enc); err == nil {
			candidates = append(candidates, raw)
		}
	}
	if plain, ok := s.get(ctx, s.repo, KeyUser); ok {
		candidates = append(candidates, []byte(plain))
	}
	for _, raw := range candidates {
		var u models.User
		if err := json.Unmarshal(raw, &u); err == nil && u.ID != "" {
			return &u, true
		}
	}
	return nil, false
}

// Watch reports writes made to the persistent storage by other instances.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	w, ok := s.repo.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w.Watch(ctx)
}

func (s *Store) get(ctx context.Context, r Repository, key string) (string, bool) {
	v, ok, err := r.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("storage read failed")
		return "", false
	}
	return v, ok && v != ""
}

func (s *Store) getInt(ctx context.Context, r Repository, key string) int64 {
	v, ok := s.get(ctx, r, key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) set(ctx context.Context, r Repository, key, value string) {
	if err := r.Set(ctx, key, value); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("storage write failed")
	}
}

func (s *Store) del(ctx context.Context, r Repository, key string) {
	if err := r.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("storage delete failed")
	}
}
