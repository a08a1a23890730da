package savvy

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GroupService covers group creation and member-scoped reads. Creation is
// the only way a group comes to exist, and it always seeds the founding
// admin membership.
type GroupService struct {
	repo         RepositoryManager
	authorizer   *Authorizer
	activitySink ActivitySink
	logger       Logger
}

// NewGroupService returns a new GroupService
func NewGroupService(repo RepositoryManager, authorizer *Authorizer) *GroupService {
	return &GroupService{
		repo:         repo,
		authorizer:   authorizer,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
}

// WithActivitySink configures an ActivitySink for emitting group events.
func (g *GroupService) WithActivitySink(sink ActivitySink) *GroupService {
	g.activitySink = normalizeActivitySink(sink)
	return g
}

func (g *GroupService) WithLogger(logger Logger) *GroupService {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Create makes a new group with the caller as its admin.
func (g *GroupService) Create(ctx context.Context, ownerID uuid.UUID, group *Group) (*Group, error) {
	var created *Group
	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = g.repo.Groups().CreateWithAdminTx(ctx, tx, group, ownerID)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to create group")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventGroupCreated,
		UserID:    ownerID.String(),
		GroupID:   created.ID.String(),
		Metadata: map[string]any{
			"name": created.Name,
		},
	})

	return created, nil
}

// Get returns a group the caller belongs to. Outsiders get ErrGroupNotFound.
func (g *GroupService) Get(ctx context.Context, callerID, groupID uuid.UUID) (*Group, error) {
	if _, err := g.authorizer.Require(ctx, callerID, groupID, PrivilegeView); err != nil {
		return nil, err
	}

	group, err := g.repo.Groups().GetByID(ctx, groupID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load group")
	}

	return group, nil
}

// GroupUpdate carries the mutable group attributes. Nil fields are left
// untouched.
type GroupUpdate struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// Update changes a group's settings. Requires PrivilegeManageGroup.
func (g *GroupService) Update(ctx context.Context, callerID, groupID uuid.UUID, patch GroupUpdate) (*Group, error) {
	if _, err := g.authorizer.Require(ctx, callerID, groupID, PrivilegeManageGroup); err != nil {
		return nil, err
	}

	group, err := g.repo.Groups().GetByID(ctx, groupID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load group")
	}

	if patch.Name != nil {
		group.Name = *patch.Name
	}
	if patch.Color != nil {
		group.Color = *patch.Color
	}
	if patch.Icon != nil {
		group.Icon = *patch.Icon
	}

	var updated *Group
	err = g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		updated, err = g.repo.Groups().UpdateTx(ctx, tx, group, repository.UpdateByID(group.ID.String()))
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to update group")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventGroupUpdated,
		UserID:    callerID.String(),
		GroupID:   group.ID.String(),
		Metadata: map[string]any{
			"name": updated.Name,
		},
	})

	return updated, nil
}

// List returns the caller's memberships with their groups attached.
func (g *GroupService) List(ctx context.Context, callerID uuid.UUID) ([]*Membership, error) {
	records, err := g.repo.Memberships().ListForUser(ctx, callerID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list groups")
	}
	return records, nil
}

func (g *GroupService) emitEvent(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	sink := normalizeActivitySink(g.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		g.logger.Error("group service activity sink error: %v", err)
	}
}
