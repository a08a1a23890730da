package savvy

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Authorizer answers "may this user do this in this group". The membership
// row is the sole source of the role; users without a row get
// ErrGroupNotFound rather than a forbidden, so group existence never leaks
// to outsiders.
type Authorizer struct {
	memberships Memberships
	policy      InvitePolicy
}

// NewAuthorizer returns a new Authorizer
func NewAuthorizer(memberships Memberships, policy InvitePolicy) *Authorizer {
	if !policy.IsValid() {
		policy = InvitePolicyAdminOnly
	}
	return &Authorizer{
		memberships: memberships,
		policy:      policy,
	}
}

// Policy returns the invite policy in force.
func (a *Authorizer) Policy() InvitePolicy {
	return a.policy
}

// Require resolves the caller's role in the group and checks it against the
// privilege. It returns the role on success so callers can make further
// decisions without a second lookup.
func (a *Authorizer) Require(ctx context.Context, userID, groupID uuid.UUID, privilege Privilege) (GroupRole, error) {
	return a.RequireTx(ctx, nil, userID, groupID, privilege)
}

// RequireTx is Require running against an open transaction.
func (a *Authorizer) RequireTx(ctx context.Context, tx bun.IDB, userID, groupID uuid.UUID, privilege Privilege) (GroupRole, error) {
	var membership *Membership
	var err error

	if tx != nil {
		membership, err = a.memberships.GetForUserGroupTx(ctx, tx, userID, groupID)
	} else {
		membership, err = a.memberships.GetForUserGroup(ctx, userID, groupID)
	}

	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return "", ErrGroupNotFound
		}
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to resolve group membership")
	}

	if !Authorize(membership.Role, privilege, a.policy) {
		return membership.Role, ErrInsufficientPrivileges
	}

	return membership.Role, nil
}
