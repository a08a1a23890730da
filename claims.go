package savvy

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates access tokens from refresh tokens. The tag is
// embedded in the signed claims so a token of one kind can never be replayed
// as the other, even if the signing keys were ever unified.
type TokenKind string

const (
	// TokenKindAccess is the short-lived bearer credential
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh is the long-lived rotation credential
	TokenKindRefresh TokenKind = "refresh"
)

// IsValid checks the kind is one of the two known values
func (k TokenKind) IsValid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// AuthClaims represents validated token claims
type AuthClaims interface {
	Subject() string
	UserID() string
	Kind() TokenKind
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string    `json:"uid,omitempty"`
	TokenType TokenKind `json:"typ,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Kind returns the token kind tag
func (c *JWTClaims) Kind() TokenKind {
	return c.TokenType
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ensureTokenID guarantees every signed token carries a unique jti, which
// makes two tokens minted in the same second for the same subject distinct.
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
