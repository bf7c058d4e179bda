package tokenstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Encoder turns the combined token record into its at-rest form.
type Encoder interface {
	Encode(plain []byte) (string, error)
	Decode(encoded string) ([]byte, error)
}

// IdentityEncoder stores records as-is.
type IdentityEncoder struct{}

func (IdentityEncoder) Encode(plain []byte) (string, error) { return string(plain), nil }
func (IdentityEncoder) Decode(encoded string) ([]byte, error) {
	return []byte(encoded), nil
}

var ErrMalformedRecord = errors.New("malformed sealed record")

// SealEncoder obfuscates records with XChaCha20-Poly1305 under a key derived
// from a shared passphrase. Anyone holding the passphrase can read the
// record; it keeps stored sessions compatible with the dashboard's encoded
// layout and is not a confidentiality control.
type SealEncoder struct {
	aead interface {
		NonceSize() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func NewSealEncoder(passphrase string) (*SealEncoder, error) {
	if passphrase == "" {
		return nil, errors.New("seal encoder requires a passphrase")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("impala token store"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SealEncoder{aead: aead}, nil
}

func (e *SealEncoder) Encode(plain []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := e.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (e *SealEncoder) Decode(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedRecord
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrMalformedRecord
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrMalformedRecord
	}
	return plain, nil
}
