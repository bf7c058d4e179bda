package sessions

import (
	"errors"
	"time"
)

var (
	ErrInvalidRefresh  = errors.New("refresh token invalid or expired")
	ErrSessionMismatch = errors.New("refresh token does not belong to session")
)

// Session is a server-side login session. The refresh token rotates on every
// refresh; ID and AuthTime stay fixed for the life of the login.
type Session struct {
	ID           string    `bson:"sessionId" json:"sessionId"`
	RefreshToken string    `bson:"_id" json:"refreshToken"`
	UserID       string    `bson:"userId" json:"userId"`
	AuthTime     time.Time `bson:"authTime" json:"authTime"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}
