package savvy

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"

	"github.com/asieraduriz/savvy-expense-tracker/middleware/jwtware"
)

// Credential / token / session taxonomy. Everything here is a recoverable,
// typed failure; storage errors are wrapped with CategoryInternal at the
// call site and are the only class treated as unexpected.

// ErrInvalidCredentials is returned for any login failure. It never
// distinguishes "no such email" from "wrong password".
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned when a user exceeds the attempt budget
// inside the cooldown window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryRateLimit).
	WithTextCode("TOO_MANY_LOGIN_ATTEMPTS")

// ErrTokenExpired is returned when a token's exp claim has passed.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail signature or structural
// validation.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED").
	WithCode(errors.CodeUnauthorized)

// ErrWrongTokenKind is returned when a token's kind tag does not match the
// expected kind (e.g. an access token presented where a refresh token is
// required).
var ErrWrongTokenKind = errors.New("wrong token kind", errors.CategoryAuth).
	WithTextCode("WRONG_TOKEN_KIND").
	WithCode(errors.CodeUnauthorized)

// ErrSessionNotFound means no refresh session matches the presented token.
var ErrSessionNotFound = errors.New("refresh session not found", errors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(errors.CodeUnauthorized)

// ErrSessionRevoked means the matched refresh session was already revoked:
// logout, a completed rotation, or a replayed token.
var ErrSessionRevoked = errors.New("refresh session revoked", errors.CategoryAuth).
	WithTextCode("SESSION_REVOKED").
	WithCode(errors.CodeUnauthorized)

// ErrSessionExpired means the matched refresh session outlived its expiry;
// detection flips the row to revoked before this is returned.
var ErrSessionExpired = errors.New("refresh session expired", errors.CategoryAuth).
	WithTextCode("SESSION_EXPIRED").
	WithCode(errors.CodeUnauthorized)

// ErrSessionInvalidOrRevoked is the single logout failure: unknown token,
// already revoked, or malformed. Deliberately generic to avoid acting as a
// token-validity oracle.
var ErrSessionInvalidOrRevoked = errors.New("invalid or already revoked refresh token", errors.CategoryAuth).
	WithTextCode("SESSION_INVALID_OR_REVOKED").
	WithCode(errors.CodeUnauthorized)

// ErrIdentityNotFound is returned for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrMismatchedHashAndPassword is the internal bcrypt mismatch marker; login
// collapses it into ErrInvalidCredentials before it leaves the package.
var ErrMismatchedHashAndPassword = errors.New("hash and password mismatch", errors.CategoryAuth).
	WithTextCode("PASSWORD_MISMATCH").
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString rejects blank input to the password hasher.
var ErrNoEmptyString = errors.New("value must not be an empty string", errors.CategoryValidation).
	WithTextCode("EMPTY_STRING").
	WithCode(errors.CodeBadRequest)

// ErrDuplicateEmail is returned when signup hits the unique email constraint.
var ErrDuplicateEmail = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode("DUPLICATE_EMAIL").
	WithCode(errors.CodeConflict)

// Invitation / membership taxonomy.

// ErrSelfInvite rejects invitations where emitter and invitee are the same
// user.
var ErrSelfInvite = errors.New("cannot invite yourself", errors.CategoryValidation).
	WithTextCode("SELF_INVITE").
	WithCode(errors.CodeBadRequest)

// ErrEmitterNotInGroup means the inviter holds no membership in the group.
var ErrEmitterNotInGroup = errors.New("user not in group", errors.CategoryValidation).
	WithTextCode("EMITTER_NOT_IN_GROUP").
	WithCode(errors.CodeBadRequest)

// ErrInviteeNotFound means the invited user does not exist.
var ErrInviteeNotFound = errors.New("invitee not found", errors.CategoryNotFound).
	WithTextCode("INVITEE_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrInsufficientPrivileges means the caller's role does not satisfy the
// required privilege.
var ErrInsufficientPrivileges = errors.New("not enough privileges", errors.CategoryAuthz).
	WithTextCode("INSUFFICIENT_PRIVILEGES").
	WithCode(errors.CodeForbidden)

// ErrDuplicatePendingInvite means the invitee already has a pending
// invitation for this group.
var ErrDuplicatePendingInvite = errors.New("pending invitation already exists", errors.CategoryConflict).
	WithTextCode("DUPLICATE_PENDING_INVITE").
	WithCode(errors.CodeConflict)

// ErrAlreadyMember means the invitee already holds a membership in the group.
var ErrAlreadyMember = errors.New("user is already a group member", errors.CategoryConflict).
	WithTextCode("ALREADY_MEMBER").
	WithCode(errors.CodeConflict)

// ErrAlreadyDecided means the invitation already left the pending state; no
// further rsvp or withdraw can succeed.
var ErrAlreadyDecided = errors.New("invitation already decided", errors.CategoryConflict).
	WithTextCode("INVITATION_DECIDED").
	WithCode(errors.CodeConflict)

// ErrInvitationNotFound covers both a missing invitation and an invitation
// the caller is not a party to, so existence never leaks to non-parties.
var ErrInvitationNotFound = errors.New("invitation not found", errors.CategoryNotFound).
	WithTextCode("INVITATION_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrGroupNotFound covers both a missing group and a group the caller is not
// a member of; callers cannot tell the two cases apart.
var ErrGroupNotFound = errors.New("group not found", errors.CategoryNotFound).
	WithTextCode("GROUP_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrUnableToHashToken means the refresh-token digest could not be derived.
var ErrUnableToHashToken = errors.New("unable to hash token", errors.CategoryInternal).
	WithTextCode("TOKEN_HASH").
	WithCode(errors.CodeInternal)

// ErrUnableToDecodeSession unable to decode JWT claims
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode("SESSION_DECODE").
	WithCode(errors.CodeUnauthorized)

// IsTokenExpiredError will check for expired tokens in any of their shapes:
// the package error, a wrapped rich error carrying its text code, or the raw
// jwt/v5 sentinel.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) || errors.Is(err, jwt.ErrTokenExpired) {
		return true
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == ErrTokenExpired.TextCode
	}
	return false
}

// IsMalformedError will check for structurally invalid or missing tokens.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return true
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == ErrTokenMalformed.TextCode
	}
	return false
}
