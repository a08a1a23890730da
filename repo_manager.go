package savvy

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Groups() Groups
	Memberships() Memberships
	RefreshSessions() RefreshSessions
	Invitations() Invitations
}

type mngr struct {
	db              *bun.DB
	users           Users
	groups          Groups
	memberships     Memberships
	refreshSessions RefreshSessions
	invitations     Invitations
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	memberships := NewMembershipsRepository(db)
	return &mngr{
		db:              db,
		users:           NewUsersRepository(db),
		groups:          NewGroupsRepository(db, memberships),
		memberships:     memberships,
		refreshSessions: NewRefreshSessionsRepository(db),
		invitations:     NewInvitationsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.groups == nil {
		return errors.New("repository groups should be initialized")
	}

	if m.memberships == nil {
		return errors.New("repository memberships should be initialized")
	}

	if m.refreshSessions == nil {
		return errors.New("repository refreshSessions should be initialized")
	}

	if m.invitations == nil {
		return errors.New("repository invitations should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Groups() Groups {
	return m.groups
}

func (m mngr) Memberships() Memberships {
	return m.memberships
}

func (m mngr) RefreshSessions() RefreshSessions {
	return m.refreshSessions
}

func (m mngr) Invitations() Invitations {
	return m.invitations
}
