package savvy

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InvitationEngine drives the invitation lifecycle: pending rows move to
// exactly one of accepted, rejected, or withdrawn, and an acceptance grants
// the membership in the same transaction that decides the row.
type InvitationEngine struct {
	repo         RepositoryManager
	authorizer   *Authorizer
	transitions  map[InvitationStatus]map[InvitationStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// InvitationEngineOption customizes engine construction.
type InvitationEngineOption func(*InvitationEngine)

// WithInvitationClock injects a custom clock (useful for tests).
func WithInvitationClock(clock func() time.Time) InvitationEngineOption {
	return func(e *InvitationEngine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithInvitationActivitySink sets the ActivitySink used to publish lifecycle events.
func WithInvitationActivitySink(sink ActivitySink) InvitationEngineOption {
	return func(e *InvitationEngine) {
		e.activitySink = normalizeActivitySink(sink)
	}
}

// WithInvitationLogger overrides the logger used for sink failures.
func WithInvitationLogger(logger Logger) InvitationEngineOption {
	return func(e *InvitationEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewInvitationEngine returns the default implementation backed by the provided repositories.
func NewInvitationEngine(repo RepositoryManager, authorizer *Authorizer, opts ...InvitationEngineOption) *InvitationEngine {
	e := &InvitationEngine{
		repo:       repo,
		authorizer: authorizer,
		transitions: map[InvitationStatus]map[InvitationStatus]struct{}{
			InvitationPending: {
				InvitationAccepted:  {},
				InvitationRejected:  {},
				InvitationWithdrawn: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	return e
}

// InviteRequest carries everything needed to issue an invitation.
type InviteRequest struct {
	GroupID   uuid.UUID
	EmitterID uuid.UUID
	InviteeID uuid.UUID
	Role      GroupRole
}

// Invite issues a pending invitation. The checks run in a fixed order so the
// caller always gets the same failure for the same state: self-invite,
// emitter membership, invitee existence, invite privilege, then inside the
// transaction the duplicate-pending guard and the prior-membership check.
func (e *InvitationEngine) Invite(ctx context.Context, req InviteRequest) (*Invitation, error) {
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	if !IsValidRole(role) {
		return nil, errors.New("unknown group role", errors.CategoryValidation).
			WithTextCode("INVALID_ROLE").
			WithCode(errors.CodeBadRequest).
			WithMetadata(map[string]any{"role": role})
	}

	if req.EmitterID == req.InviteeID {
		return nil, ErrSelfInvite
	}

	emitterRole, err := e.authorizer.Require(ctx, req.EmitterID, req.GroupID, PrivilegeView)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return nil, ErrEmitterNotInGroup
		}
		return nil, err
	}

	if _, err := e.repo.Users().GetByID(ctx, req.InviteeID.String()); err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrInviteeNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load invitee")
	}

	if !Authorize(emitterRole, PrivilegeInvite, e.authorizer.Policy()) {
		return nil, ErrInsufficientPrivileges
	}

	var invitation *Invitation
	err = e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := e.repo.Invitations().FindPendingTx(ctx, tx, req.GroupID, req.InviteeID); err == nil {
			return ErrDuplicatePendingInvite
		} else if !repository.IsRecordNotFound(err) && !errors.IsNotFound(err) {
			return errors.Wrap(err, errors.CategoryInternal, "failed to check pending invitations")
		}

		if _, err := e.repo.Memberships().GetForUserGroupTx(ctx, tx, req.InviteeID, req.GroupID); err == nil {
			return ErrAlreadyMember
		} else if !repository.IsRecordNotFound(err) && !errors.IsNotFound(err) {
			return errors.Wrap(err, errors.CategoryInternal, "failed to check invitee membership")
		}

		invitation, err = e.repo.Invitations().CreateTx(ctx, tx, &Invitation{
			GroupID:   req.GroupID,
			EmitterID: req.EmitterID,
			InviteeID: req.InviteeID,
			Role:      role,
			Status:    InvitationPending,
		})
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to create invitation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventInvitationCreated,
		UserID:    req.EmitterID.String(),
		GroupID:   req.GroupID.String(),
		Metadata: map[string]any{
			"invitation_id": invitation.ID.String(),
			"invitee_id":    req.InviteeID.String(),
			"role":          role,
		},
	})

	return invitation, nil
}

// RSVP lets the invitee accept or reject a pending invitation. Accepting
// grants the membership in the same transaction that decides the row, so a
// decided-accepted invitation always has its membership.
func (e *InvitationEngine) RSVP(ctx context.Context, invitationID, callerID uuid.UUID, accept bool) (*Invitation, error) {
	target := InvitationRejected
	if accept {
		target = InvitationAccepted
	}

	invitation, err := e.loadForParty(ctx, invitationID, callerID, func(inv *Invitation) bool {
		return inv.InviteeID == callerID
	})
	if err != nil {
		return nil, err
	}

	if err := e.ensureTransition(invitation.Status, target); err != nil {
		return nil, err
	}

	var decided *Invitation
	err = e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		decided, err = e.decideTx(ctx, tx, invitation.ID, target)
		if err != nil {
			return err
		}

		if accept {
			_, err = e.repo.Memberships().GrantTx(ctx, tx, &Membership{
				UserID:  invitation.InviteeID,
				GroupID: invitation.GroupID,
				Role:    invitation.Role,
			})
			if err != nil {
				return errors.Wrap(err, errors.CategoryInternal, "failed to grant membership")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := ActivityEventInvitationRejected
	if accept {
		eventType = ActivityEventInvitationAccepted
	}
	e.recordActivity(ctx, ActivityEvent{
		EventType: eventType,
		UserID:    callerID.String(),
		GroupID:   invitation.GroupID.String(),
		Metadata: map[string]any{
			"invitation_id": invitation.ID.String(),
		},
	})

	if accept {
		e.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventMembershipGranted,
			UserID:    invitation.InviteeID.String(),
			GroupID:   invitation.GroupID.String(),
			Metadata: map[string]any{
				"invitation_id": invitation.ID.String(),
				"role":          invitation.Role,
			},
		})
	}

	return decided, nil
}

// Withdraw lets the emitter cancel a pending invitation.
func (e *InvitationEngine) Withdraw(ctx context.Context, invitationID, callerID uuid.UUID) (*Invitation, error) {
	invitation, err := e.loadForParty(ctx, invitationID, callerID, func(inv *Invitation) bool {
		return inv.EmitterID == callerID
	})
	if err != nil {
		return nil, err
	}

	if err := e.ensureTransition(invitation.Status, InvitationWithdrawn); err != nil {
		return nil, err
	}

	var decided *Invitation
	err = e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		decided, err = e.decideTx(ctx, tx, invitation.ID, InvitationWithdrawn)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventInvitationWithdrawn,
		UserID:    callerID.String(),
		GroupID:   invitation.GroupID.String(),
		Metadata: map[string]any{
			"invitation_id": invitation.ID.String(),
		},
	})

	return decided, nil
}

// ListReceived returns invitations addressed to the user.
func (e *InvitationEngine) ListReceived(ctx context.Context, userID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error) {
	return e.repo.Invitations().ListForInvitee(ctx, userID, statuses...)
}

// ListSent returns invitations the user emitted.
func (e *InvitationEngine) ListSent(ctx context.Context, userID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error) {
	return e.repo.Invitations().ListForEmitter(ctx, userID, statuses...)
}

// ListForGroup returns a group's invitations. The caller must be a member.
func (e *InvitationEngine) ListForGroup(ctx context.Context, callerID, groupID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error) {
	if _, err := e.authorizer.Require(ctx, callerID, groupID, PrivilegeView); err != nil {
		return nil, err
	}
	return e.repo.Invitations().ListForGroup(ctx, groupID, statuses...)
}

// loadForParty fetches the invitation and hides it from non-parties.
func (e *InvitationEngine) loadForParty(ctx context.Context, invitationID, callerID uuid.UUID, isParty func(*Invitation) bool) (*Invitation, error) {
	invitation, err := e.repo.Invitations().GetByID(ctx, invitationID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrInvitationNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load invitation")
	}

	if !isParty(invitation) {
		return nil, ErrInvitationNotFound
	}

	return invitation, nil
}

func (e *InvitationEngine) ensureTransition(from, to InvitationStatus) error {
	if allowed, ok := e.transitions[from]; ok {
		if _, exists := allowed[to]; exists {
			return nil
		}
	}
	return ErrAlreadyDecided
}

// decideTx applies the terminal status under the pending-only compare-and-set.
func (e *InvitationEngine) decideTx(ctx context.Context, tx bun.IDB, id uuid.UUID, target InvitationStatus) (*Invitation, error) {
	decided, err := e.repo.Invitations().DecideTx(ctx, tx, id, target)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Lost the race: someone else decided first.
			return nil, ErrAlreadyDecided
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to decide invitation")
	}
	return decided, nil
}

func (e *InvitationEngine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}

	sink := normalizeActivitySink(e.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		e.logger.Error("invitation engine activity sink error: %v", err)
	}
}
