package savvy

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RevokeRefreshSessionSQL flips a session to revoked only if it is still
// live. The WHERE clause is the compare-and-set: when two rotations race,
// exactly one UPDATE matches the row and the other returns no record.
var RevokeRefreshSessionSQL = `UPDATE "refresh_sessions" AS "rfs"
SET
	"revoked" = TRUE,
	"revoked_at" = ?
WHERE
	"rfs"."id" = ?
AND
	"rfs"."revoked" = FALSE
RETURNING *;`

type RefreshSessions interface {
	repository.Repository[*RefreshSession]

	GetByTokenHash(ctx context.Context, tokenHash uuid.UUID) (*RefreshSession, error)
	GetByTokenHashTx(ctx context.Context, tx bun.IDB, tokenHash uuid.UUID) (*RefreshSession, error)
	Revoke(ctx context.Context, id uuid.UUID) (*RefreshSession, error)
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*RefreshSession, error)
	Create(ctx context.Context, record *RefreshSession, criteria ...repository.InsertCriteria) (*RefreshSession, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *RefreshSession, criteria ...repository.InsertCriteria) (*RefreshSession, error)
}

type refreshSessions struct {
	repository.Repository[*RefreshSession]
	db *bun.DB
}

var (
	_ RefreshSessions                        = (*refreshSessions)(nil)
	_ repository.Repository[*RefreshSession] = (*refreshSessions)(nil)
)

func NewRefreshSessionsRepository(db *bun.DB) RefreshSessions {
	repo := repository.NewRepository[*RefreshSession](db, repository.ModelHandlers[*RefreshSession]{
		NewRecord: func() *RefreshSession { return &RefreshSession{} },
		GetID: func(s *RefreshSession) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *RefreshSession, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token_hash"
		},
	})

	return &refreshSessions{
		Repository: repo,
		db:         db,
	}
}

func (r *refreshSessions) Create(ctx context.Context, record *RefreshSession, criteria ...repository.InsertCriteria) (*RefreshSession, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *refreshSessions) CreateTx(ctx context.Context, tx bun.IDB, record *RefreshSession, criteria ...repository.InsertCriteria) (*RefreshSession, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *refreshSessions) GetByTokenHash(ctx context.Context, tokenHash uuid.UUID) (*RefreshSession, error) {
	return r.GetByTokenHashTx(ctx, r.db, tokenHash)
}

func (r *refreshSessions) GetByTokenHashTx(ctx context.Context, tx bun.IDB, tokenHash uuid.UUID) (*RefreshSession, error) {
	record := &RefreshSession{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", tokenHash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"token_hash": tokenHash.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *refreshSessions) Revoke(ctx context.Context, id uuid.UUID) (*RefreshSession, error) {
	return r.RevokeTx(ctx, r.db, id)
}

// RevokeTx marks the session revoked. It fails with a record-not-found when
// the session was already revoked, which callers use to detect replay.
func (r *refreshSessions) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*RefreshSession, error) {
	now := time.Now()
	res, err := r.Repository.RawTx(ctx, tx, RevokeRefreshSessionSQL, now, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}
