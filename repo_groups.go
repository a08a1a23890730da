package savvy

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Groups interface {
	repository.Repository[*Group]

	CreateWithAdminTx(ctx context.Context, tx bun.IDB, group *Group, adminID uuid.UUID) (*Group, error)
}

type groups struct {
	repository.Repository[*Group]
	db          *bun.DB
	memberships Memberships
}

var (
	_ Groups                        = (*groups)(nil)
	_ repository.Repository[*Group] = (*groups)(nil)
)

func NewGroupsRepository(db *bun.DB, memberships Memberships) Groups {
	repo := repository.NewRepository[*Group](db, repository.ModelHandlers[*Group]{
		NewRecord: func() *Group { return &Group{} },
		GetID: func(g *Group) uuid.UUID {
			if g == nil {
				return uuid.Nil
			}
			return g.ID
		},
		SetID: func(g *Group, id uuid.UUID) {
			if g != nil {
				g.ID = id
			}
		},
	})

	return &groups{
		Repository:  repo,
		db:          db,
		memberships: memberships,
	}
}

// CreateWithAdminTx inserts the group and its founding admin membership in
// the same transaction, so a group can never exist without an admin.
func (g *groups) CreateWithAdminTx(ctx context.Context, tx bun.IDB, group *Group, adminID uuid.UUID) (*Group, error) {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}

	created, err := g.Repository.CreateTx(ctx, tx, group)
	if err != nil {
		return nil, err
	}

	_, err = g.memberships.GrantTx(ctx, tx, &Membership{
		UserID:  adminID,
		GroupID: created.ID,
		Role:    RoleAdmin,
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}
