package savvy

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DecideInvitationSQL moves an invitation out of pending only if it is still
// pending. Like the session revoke, the WHERE clause is the compare-and-set:
// the first decision wins and every later one sees zero rows.
var DecideInvitationSQL = `UPDATE "invitations" AS "inv"
SET
	"status" = ?,
	"decided_at" = ?,
	"updated_at" = ?
WHERE
	"inv"."id" = ?
AND
	"inv"."status" = 'pending'
RETURNING *;`

type Invitations interface {
	repository.Repository[*Invitation]

	FindPendingTx(ctx context.Context, tx bun.IDB, groupID, inviteeID uuid.UUID) (*Invitation, error)
	Decide(ctx context.Context, id uuid.UUID, status InvitationStatus) (*Invitation, error)
	DecideTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status InvitationStatus) (*Invitation, error)
	ListForInvitee(ctx context.Context, inviteeID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error)
	ListForEmitter(ctx context.Context, emitterID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error)
	ListForGroup(ctx context.Context, groupID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error)
	Create(ctx context.Context, record *Invitation, criteria ...repository.InsertCriteria) (*Invitation, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Invitation, criteria ...repository.InsertCriteria) (*Invitation, error)
}

type invitations struct {
	repository.Repository[*Invitation]
	db *bun.DB
}

var (
	_ Invitations                        = (*invitations)(nil)
	_ repository.Repository[*Invitation] = (*invitations)(nil)
)

func NewInvitationsRepository(db *bun.DB) Invitations {
	repo := repository.NewRepository[*Invitation](db, repository.ModelHandlers[*Invitation]{
		NewRecord: func() *Invitation { return &Invitation{} },
		GetID: func(i *Invitation) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Invitation, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
	})

	return &invitations{
		Repository: repo,
		db:         db,
	}
}

func (r *invitations) Create(ctx context.Context, record *Invitation, criteria ...repository.InsertCriteria) (*Invitation, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *invitations) CreateTx(ctx context.Context, tx bun.IDB, record *Invitation, criteria ...repository.InsertCriteria) (*Invitation, error) {
	if record != nil {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		record.EnsureStatus()
	}
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *invitations) FindPendingTx(ctx context.Context, tx bun.IDB, groupID, inviteeID uuid.UUID) (*Invitation, error) {
	record := &Invitation{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.group_id = ?", groupID).
		Where("?TableAlias.invitee_id = ?", inviteeID).
		Where("?TableAlias.status = ?", InvitationPending).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"group_id":   groupID.String(),
					"invitee_id": inviteeID.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *invitations) Decide(ctx context.Context, id uuid.UUID, status InvitationStatus) (*Invitation, error) {
	return r.DecideTx(ctx, r.db, id, status)
}

// DecideTx applies a terminal status. A record-not-found means the invitation
// was already decided (or never existed); callers disambiguate with a read.
func (r *invitations) DecideTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status InvitationStatus) (*Invitation, error) {
	now := time.Now()
	res, err := r.Repository.RawTx(ctx, tx, DecideInvitationSQL, status, now, now, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id":     id.String(),
				"status": status,
			})
	}

	return res[0], nil
}

func (r *invitations) ListForInvitee(ctx context.Context, inviteeID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error) {
	return r.list(ctx, "invitee_id", inviteeID, statuses)
}

func (r *invitations) ListForEmitter(ctx context.Context, emitterID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error) {
	return r.list(ctx, "emitter_id", emitterID, statuses)
}

func (r *invitations) ListForGroup(ctx context.Context, groupID uuid.UUID, statuses ...InvitationStatus) ([]*Invitation, error) {
	return r.list(ctx, "group_id", groupID, statuses)
}

func (r *invitations) list(ctx context.Context, column string, id uuid.UUID, statuses []InvitationStatus) ([]*Invitation, error) {
	records := []*Invitation{}
	q := r.db.NewSelect().
		Model(&records).
		Relation("Group").
		Relation("Emitter").
		Relation("Invitee").
		Where("?TableAlias."+column+" = ?", id).
		Order("inv.created_at DESC")

	if len(statuses) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(statuses))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}
