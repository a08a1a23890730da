package savvy

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GroupRole is a user's role within a single group
type GroupRole = string

const (
	// RoleViewer can read group data (i.e. view)
	RoleViewer GroupRole = "viewer"
	// RoleMember can contribute expenses (i.e. view, post)
	RoleMember GroupRole = "member"
	// RoleAdmin manages the group (i.e. view, post, invite, manage)
	RoleAdmin GroupRole = "admin"
)

// User is the identity model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name           string     `bun:"name,notnull" json:"name,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Group is a shared expense pool
type Group struct {
	bun.BaseModel `bun:"table:groups,alias:grp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	Color         string     `bun:"color" json:"color,omitempty"`
	Icon          string     `bun:"icon" json:"icon,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Membership links a user to a group with a role. At most one row may exist
// per (user, group) pair; the role is fixed at creation.
type Membership struct {
	bun.BaseModel `bun:"table:memberships,alias:mbr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,unique:user_group,type:uuid" json:"user_id,omitempty"`
	GroupID       uuid.UUID  `bun:"group_id,notnull,unique:user_group,type:uuid" json:"group_id,omitempty"`
	Role          GroupRole  `bun:"role,notnull" json:"role,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Group         *Group     `bun:"rel:belongs-to,join:group_id=id" json:"group,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RefreshSession is one row per issued refresh token. The plaintext token is
// returned to the caller exactly once; the row keeps only a deterministic
// digest of it (TokenHash). Rows are never deleted, only revoked.
type RefreshSession struct {
	bun.BaseModel `bun:"table:refresh_sessions,alias:rfs"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	TokenHash     uuid.UUID  `bun:"token_hash,notnull,unique,type:uuid" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	Revoked       bool       `bun:"revoked,notnull,default:false" json:"revoked,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the session's expiry timestamp has passed.
func (s *RefreshSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Active reports whether the session can still be redeemed.
func (s *RefreshSession) Active(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}

// InvitationStatus is the state of an invitation
type InvitationStatus = string

const (
	// InvitationPending is the initial state
	InvitationPending InvitationStatus = "pending"
	// InvitationAccepted means the invitee joined the group
	InvitationAccepted InvitationStatus = "accepted"
	// InvitationRejected means the invitee declined
	InvitationRejected InvitationStatus = "rejected"
	// InvitationWithdrawn means the emitter cancelled it
	InvitationWithdrawn InvitationStatus = "withdrawn"
)

// Invitation proposes adding invitee to a group with a target role. Rows are
// a historical record: they move from pending to exactly one terminal status
// and are never deleted.
type Invitation struct {
	bun.BaseModel `bun:"table:invitations,alias:inv"`
	ID            uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	GroupID       uuid.UUID        `bun:"group_id,notnull,type:uuid" json:"group_id,omitempty"`
	EmitterID     uuid.UUID        `bun:"emitter_id,notnull,type:uuid" json:"emitter_id,omitempty"`
	InviteeID     uuid.UUID        `bun:"invitee_id,notnull,type:uuid" json:"invitee_id,omitempty"`
	Role          GroupRole        `bun:"role,notnull" json:"role,omitempty"`
	Status        InvitationStatus `bun:"status,notnull" json:"status,omitempty"`
	Group         *Group           `bun:"rel:belongs-to,join:group_id=id" json:"group,omitempty"`
	Emitter       *User            `bun:"rel:belongs-to,join:emitter_id=id" json:"emitter,omitempty"`
	Invitee       *User            `bun:"rel:belongs-to,join:invitee_id=id" json:"invitee,omitempty"`
	DecidedAt     *time.Time       `bun:"decided_at,nullzero" json:"decided_at,omitempty"`
	CreatedAt     *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time       `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults a blank status to pending.
func (i *Invitation) EnsureStatus() {
	if i.Status == "" {
		i.Status = InvitationPending
	}
}

// Terminal reports whether the invitation has left the pending state.
func (i *Invitation) Terminal() bool {
	return i.Status != "" && i.Status != InvitationPending
}
