package savvy

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenService signs and validates the two token kinds. Each kind has its
// own secret and its own expiry, so compromise of one signing key cannot
// forge the other kind.
type TokenService interface {
	Issue(subject string, kind TokenKind) (string, error)
	Mint(subject string, kind TokenKind) (string, time.Time, error)
	Validate(tokenString string, kind TokenKind) (AuthClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		accessKey:  []byte(cfg.GetAccessSigningKey()),
		refreshKey: []byte(cfg.GetRefreshSigningKey()),
		accessTTL:  time.Duration(cfg.GetAccessTokenExpiration()) * time.Minute,
		refreshTTL: time.Duration(cfg.GetRefreshTokenExpiration()) * time.Minute,
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		logger:     logger,
	}
}

// Issue creates a signed token of the given kind for the subject.
func (ts *TokenServiceImpl) Issue(subject string, kind TokenKind) (string, error) {
	token, _, err := ts.Mint(subject, kind)
	return token, err
}

// Mint creates a signed token and reports its expiry, so callers persisting
// session rows share a single source of truth for the deadline.
func (ts *TokenServiceImpl) Mint(subject string, kind TokenKind) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required", errors.CategoryBadInput)
	}
	if !kind.IsValid() {
		return "", time.Time{}, errors.New("unknown token kind", errors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	now := time.Now()
	expiresAt := now.Add(ts.ttlFor(kind))

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject,
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:       subject,
		TokenType: kind,
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.keyFor(kind))
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

// Validate parses and validates a token string against the expected kind,
// returning structured claims. The kind determines the verification key, and
// the embedded kind tag must match too: a structurally valid token of the
// wrong kind fails with ErrWrongTokenKind, never a subject leak.
func (ts *TokenServiceImpl) Validate(tokenString string, kind TokenKind) (AuthClaims, error) {
	if !kind.IsValid() {
		return nil, errors.New("unknown token kind", errors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate: unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.keyFor(kind), nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate: could not decode claims")
		return nil, ErrUnableToDecodeSession
	}

	if claims.Kind() != kind {
		return nil, ErrWrongTokenKind
	}

	return claims, nil
}

func (ts *TokenServiceImpl) keyFor(kind TokenKind) []byte {
	if kind == TokenKindRefresh {
		return ts.refreshKey
	}
	return ts.accessKey
}

func (ts *TokenServiceImpl) ttlFor(kind TokenKind) time.Duration {
	if kind == TokenKindRefresh {
		return ts.refreshTTL
	}
	return ts.accessTTL
}
