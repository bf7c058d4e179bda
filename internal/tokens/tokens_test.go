package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/impala/hetero/backend/go-services/internal/config"
	"github.com/impala/hetero/backend/go-services/internal/models"
)

func TestGenerateAccessToken_ValidAndClaims(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret-32-bytes-should-be-long-enough"

	u := &models.User{ID: "user-123", Name: "Test User", Email: "test@example.com", Role: "admin"}
	tokenStr, err := GenerateAccessToken(cfg, u, "sess-1", 2*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}

	claims, err := ParseAccessToken(cfg, tokenStr)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if claims["sub"] != u.ID {
		t.Fatalf("unexpected sub claim: got=%v want=%v", claims["sub"], u.ID)
	}
	if claims["sid"] != "sess-1" {
		t.Fatalf("unexpected sid claim: %v", claims["sid"])
	}
}

func TestGenerateAccessToken_UniquePerCall(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "unique-secret-32-bytes-xxxxxxxxxxxx"
	u := &models.User{ID: "u1"}

	a, err := GenerateAccessToken(cfg, u, "s", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateAccessToken(cfg, u, "s", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens within the same second")
	}
}

func TestParseToken_WrongSecretFails(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "secret-one-32-bytes-xxxxxxxxxxxxxxxx"
	u := &models.User{ID: "u3", Name: "Bob", Email: "bob@example.com"}
	tokenStr, err := GenerateAccessToken(cfg, u, "s", 2*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}
	other := &config.Config{}
	other.JWT.Secret = "different-secret-xxxxxxxxxxxxxxxx"
	if _, err := ParseAccessToken(other, tokenStr); err == nil {
		t.Fatalf("expected parse to fail with wrong secret")
	}
}

// Rejected when alg=none (unsigned token)
func TestParseToken_AlgNoneRejected(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "x"
	headerEnc := jwt.EncodeSegment([]byte(`{"alg":"none"}`))
	payloadEnc := jwt.EncodeSegment([]byte(`{"sub":"u-none","exp":9999999999}`))
	tok := headerEnc + "." + payloadEnc + "."
	if _, err := ParseAccessToken(cfg, tok); err == nil {
		t.Fatalf("expected parse to reject alg=none token")
	}
}

// Tampering with payload must fail signature verification
func TestParseToken_TamperedPayload(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "tamper-test-secret-32-bytes-xxxxxxx"
	u := &models.User{ID: "user-t", Name: "Tamper", Email: "t@example.com"}
	tokenStr, err := GenerateAccessToken(cfg, u, "s", 5*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token parts")
	}
	payloadBytes, _ := jwt.DecodeSegment(parts[1])
	payloadStr := strings.Replace(string(payloadBytes), "user-t", "attacker", 1)
	parts[1] = jwt.EncodeSegment([]byte(payloadStr))
	if _, err := ParseAccessToken(cfg, strings.Join(parts, ".")); err == nil {
		t.Fatalf("expected signature verification to fail for tampered token")
	}
}

func TestExpiryFromJWT(t *testing.T) {
	payload := jwt.EncodeSegment([]byte(`{"sub":"s1","exp":1700000000}`))
	exp, err := ExpiryFromJWT("eyJhbGciOiJIUzI1NiJ9." + payload + ".sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Unix() != 1700000000 {
		t.Fatalf("unexpected exp time: %v", exp.Unix())
	}

	noExp := jwt.EncodeSegment([]byte(`{"sub":"s2"}`))
	if _, err := ExpiryFromJWT("eyJhbGciOiJIUzI1NiJ9." + noExp + ".sig"); err == nil {
		t.Fatalf("expected error for missing exp claim")
	}

	if _, err := ExpiryFromJWT("not.a.jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func TestGrantResolve(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	g := Grant{Bundle: Bundle{AccessToken: "a", ExpiresAt: 42}, ExpiresIn: 900}
	if got := g.Resolve(now).ExpiresAt; got != 42 {
		t.Fatalf("explicit expires_at must win, got %d", got)
	}

	g = Grant{Bundle: Bundle{AccessToken: "a"}, ExpiresIn: 900}
	if got := g.Resolve(now).ExpiresAt; got != now.Unix()+900 {
		t.Fatalf("expires_in not applied, got %d", got)
	}

	payload := jwt.EncodeSegment([]byte(`{"exp":1700003600}`))
	g = Grant{Bundle: Bundle{AccessToken: "eyJhbGciOiJIUzI1NiJ9." + payload + ".sig"}}
	if got := g.Resolve(now).ExpiresAt; got != 1700003600 {
		t.Fatalf("exp claim not applied, got %d", got)
	}

	g = Grant{Bundle: Bundle{AccessToken: "opaque"}}
	if got := g.Resolve(now).ExpiresAt; got != 0 {
		t.Fatalf("opaque token must leave expiry unknown, got %d", got)
	}
}

func TestBundleMerge(t *testing.T) {
	orig := Bundle{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: 10, SessionID: "s1", AuthTimestamp: 1234}

	got := orig.Merge(Bundle{AccessToken: "a2", ExpiresAt: 20, AuthTimestamp: 9999})
	want := Bundle{AccessToken: "a2", RefreshToken: "r1", ExpiresAt: 20, SessionID: "s1", AuthTimestamp: 1234}
	if got != want {
		t.Fatalf("Merge() = %+v, want %+v", got, want)
	}

	// a grant without any expiry keeps the known one
	if got := orig.Merge(Bundle{AccessToken: "opaque"}); got.ExpiresAt != 10 || got.AccessToken != "opaque" {
		t.Fatalf("unknown expiry must not reset the stored one: %+v", got)
	}

	got = orig.Merge(Bundle{AccessToken: "a3", RefreshToken: "r2", ExpiresAt: 30, SessionID: "s2"})
	if got.RefreshToken != "r2" || got.SessionID != "s2" || got.AuthTimestamp != 1234 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}
