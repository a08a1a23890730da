package savvy

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenPair is what a successful login or refresh hands back: a fresh token
// of each kind. The refresh token's plaintext exists only here; the store
// keeps its digest.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionManager owns the credential lifecycle: registration, login, the
// refresh rotation, and logout. Every refresh token corresponds to one
// RefreshSession row, and rotation retires the old row in the same
// transaction that creates the new one.
type SessionManager struct {
	provider     IdentityProvider
	repo         RepositoryManager
	tokens       TokenService
	logger       Logger
	activitySink ActivitySink
	authScheme   string
}

// NewSessionManager returns a new SessionManager
func NewSessionManager(provider IdentityProvider, repo RepositoryManager, cfg Config) *SessionManager {
	scheme := cfg.GetAuthScheme()
	if scheme == "" {
		scheme = "JWT"
	}

	return &SessionManager{
		provider:     provider,
		repo:         repo,
		tokens:       NewTokenService(cfg, defLogger{}),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		authScheme:   scheme,
	}
}

func (s *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService sets a custom token service.
func (s *SessionManager) WithTokenService(ts TokenService) *SessionManager {
	if ts != nil {
		s.tokens = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this SessionManager
func (s *SessionManager) TokenService() TokenService {
	return s.tokens
}

// Register creates a new account and opens its first session. The email must
// not be in use. The caller gets the user plus a fresh token pair, so signup
// needs no follow-up login.
func (s *SessionManager) Register(ctx context.Context, name, email, password string) (*User, *TokenPair, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	email = NormalizeEmail(email)

	if _, err := s.repo.Users().GetByIdentifier(ctx, email); err == nil {
		return nil, nil, ErrDuplicateEmail
	} else if !errors.IsNotFound(err) && !repository.IsRecordNotFound(err) {
		return nil, nil, errors.Wrap(err, errors.CategoryInternal, "failed to check email availability")
	}

	var user *User
	var pair *TokenPair
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = s.repo.Users().RegisterTx(ctx, tx, &User{
			Name:         name,
			Email:        email,
			PasswordHash: hash,
		})
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to register user")
		}

		pair, err = s.openSessionTx(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.emitEvent(ctx, ActivityEventUserRegistered, user.ID.String(), "", nil)

	return user, pair, nil
}

// Login verifies the credentials and opens a new refresh session. Every
// credential failure surfaces as ErrInvalidCredentials; only the throttle
// error is allowed through distinct.
func (s *SessionManager) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	identity, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Error("Login verify identity error: %v", err)
		s.emitEvent(ctx, ActivityEventLoginFailure, "", "", map[string]any{
			"identifier": email,
			"error":      err.Error(),
		})

		if errors.Is(err, ErrTooManyLoginAttempts) {
			return nil, ErrTooManyLoginAttempts
		}
		if errors.Is(err, ErrMismatchedHashAndPassword) || errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "identity has a malformed id")
	}

	var pair *TokenPair
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		pair, err = s.openSessionTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitEvent(ctx, ActivityEventLoginSuccess, identity.ID(), "", map[string]any{
		"identifier": email,
	})

	return pair, nil
}

// Refresh redeems a refresh token for a new pair, retiring the presented
// session. A token that was already redeemed fails with ErrSessionRevoked:
// the row's compare-and-set admits exactly one redemption.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	digest, err := sessionTokenHash(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.RefreshSessions().GetByTokenHash(ctx, digest)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load refresh session")
	}

	if session.Revoked {
		return nil, ErrSessionRevoked
	}

	now := time.Now()
	if session.Expired(now) {
		// Lazy cleanup: flip the row so later lookups report revoked.
		if _, err := s.repo.RefreshSessions().Revoke(ctx, session.ID); err != nil && !repository.IsRecordNotFound(err) {
			s.logger.Error("Refresh failed to retire expired session: %v", err)
		}
		return nil, ErrSessionExpired
	}

	if claims.UserID() != session.UserID.String() {
		return nil, ErrSessionNotFound
	}

	var pair *TokenPair
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.RefreshSessions().RevokeTx(ctx, tx, session.ID); err != nil {
			if repository.IsRecordNotFound(err) {
				// Lost the race against a concurrent redemption.
				return ErrSessionRevoked
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to retire refresh session")
		}

		pair, err = s.openSessionTx(ctx, tx, session.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitEvent(ctx, ActivityEventTokenRefreshed, session.UserID.String(), "", map[string]any{
		"session_id": session.ID.String(),
	})

	return pair, nil
}

// Logout revokes the presented refresh session. All failure shapes collapse
// into ErrSessionInvalidOrRevoked so logout never acts as a validity oracle.
func (s *SessionManager) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.Validate(refreshToken, TokenKindRefresh)
	if err != nil {
		return ErrSessionInvalidOrRevoked
	}

	digest, err := sessionTokenHash(refreshToken)
	if err != nil {
		return ErrSessionInvalidOrRevoked
	}

	session, err := s.repo.RefreshSessions().GetByTokenHash(ctx, digest)
	if err != nil {
		return ErrSessionInvalidOrRevoked
	}

	if claims.UserID() != session.UserID.String() {
		return ErrSessionInvalidOrRevoked
	}

	if _, err := s.repo.RefreshSessions().Revoke(ctx, session.ID); err != nil {
		return ErrSessionInvalidOrRevoked
	}

	s.emitEvent(ctx, ActivityEventSessionRevoked, session.UserID.String(), "", map[string]any{
		"session_id": session.ID.String(),
	})

	return nil
}

// Authenticate resolves an access token into the identity it belongs to.
func (s *SessionManager) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := s.tokens.Validate(accessToken, TokenKindAccess)
	if err != nil {
		return nil, err
	}

	identity, err := s.provider.FindIdentityByIdentifier(ctx, claims.UserID())
	if err != nil {
		s.logger.Error("Authenticate find identity error: %v", err)
		return nil, err
	}

	return identity, nil
}

// SessionFromToken validates an access token and exposes it as a Session.
func (s *SessionManager) SessionFromToken(raw string) (Session, error) {
	claims, err := s.tokens.Validate(raw, TokenKindAccess)
	if err != nil {
		return nil, err
	}

	return sessionFromAuthClaims(claims)
}

var _ Authenticator = (*SessionManager)(nil)

// openSessionTx mints a token pair and persists the refresh side.
func (s *SessionManager) openSessionTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*TokenPair, error) {
	access, accessExp, err := s.tokens.Mint(userID.String(), TokenKindAccess)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := s.tokens.Mint(userID.String(), TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	digest, err := sessionTokenHash(refresh)
	if err != nil {
		return nil, err
	}

	_, err = s.repo.RefreshSessions().CreateTx(ctx, tx, &RefreshSession{
		UserID:    userID,
		TokenHash: digest,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to persist refresh session")
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    s.authScheme,
		ExpiresAt:    accessExp,
	}, nil
}

func (s *SessionManager) emitEvent(ctx context.Context, eventType ActivityEventType, userID, groupID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		UserID:    userID,
		GroupID:   groupID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Error("activity sink record error: %v", err)
	}
}
