package savvy

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Memberships interface {
	repository.Repository[*Membership]

	GetForUserGroup(ctx context.Context, userID, groupID uuid.UUID) (*Membership, error)
	GetForUserGroupTx(ctx context.Context, tx bun.IDB, userID, groupID uuid.UUID) (*Membership, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	Grant(ctx context.Context, record *Membership) (*Membership, error)
	GrantTx(ctx context.Context, tx bun.IDB, record *Membership) (*Membership, error)
}

type memberships struct {
	repository.Repository[*Membership]
	db *bun.DB
}

var (
	_ Memberships                        = (*memberships)(nil)
	_ repository.Repository[*Membership] = (*memberships)(nil)
)

func NewMembershipsRepository(db *bun.DB) Memberships {
	repo := repository.NewRepository[*Membership](db, repository.ModelHandlers[*Membership]{
		NewRecord: func() *Membership { return &Membership{} },
		GetID: func(m *Membership) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *Membership, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})

	return &memberships{
		Repository: repo,
		db:         db,
	}
}

func (m *memberships) GetForUserGroup(ctx context.Context, userID, groupID uuid.UUID) (*Membership, error) {
	return m.GetForUserGroupTx(ctx, m.db, userID, groupID)
}

func (m *memberships) GetForUserGroupTx(ctx context.Context, tx bun.IDB, userID, groupID uuid.UUID) (*Membership, error) {
	record := &Membership{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.group_id = ?", groupID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id":  userID.String(),
					"group_id": groupID.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (m *memberships) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	records := []*Membership{}
	err := m.db.NewSelect().
		Model(&records).
		Relation("Group").
		Where("?TableAlias.user_id = ?", userID).
		Order("mbr.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (m *memberships) Grant(ctx context.Context, record *Membership) (*Membership, error) {
	return m.GrantTx(ctx, m.db, record)
}

func (m *memberships) GrantTx(ctx context.Context, tx bun.IDB, record *Membership) (*Membership, error) {
	if record != nil {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.Role == "" {
			record.Role = RoleMember
		}
	}
	return m.Repository.CreateTx(ctx, tx, record)
}
