package savvy_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	savvy "github.com/asieraduriz/savvy-expense-tracker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	models := []any{
		(*savvy.User)(nil),
		(*savvy.Group)(nil),
		(*savvy.Membership)(nil),
		(*savvy.RefreshSession)(nil),
		(*savvy.Invitation)(nil),
	}
	for _, model := range models {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(context.Background())
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

type testApp struct {
	db          *bun.DB
	repo        savvy.RepositoryManager
	session     *savvy.SessionManager
	groups      *savvy.GroupService
	invitations *savvy.InvitationEngine
	authorizer  *savvy.Authorizer
	sink        *capturingSink
	cfg         *testConfig
}

func setupApp(t *testing.T, cfg *testConfig) *testApp {
	t.Helper()

	if cfg == nil {
		cfg = newTestConfig()
	}

	db := setupDB(t)
	repo := savvy.NewRepositoryManager(db)
	repo.MustValidate()

	sink := &capturingSink{}

	provider := savvy.NewUserProvider(repo.Users())
	session := savvy.NewSessionManager(provider, repo, cfg).WithActivitySink(sink)

	authorizer := savvy.NewAuthorizer(repo.Memberships(), cfg.GetInvitePolicy())
	groups := savvy.NewGroupService(repo, authorizer).WithActivitySink(sink)
	invitations := savvy.NewInvitationEngine(repo, authorizer,
		savvy.WithInvitationActivitySink(sink),
	)

	return &testApp{
		db:          db,
		repo:        repo,
		session:     session,
		groups:      groups,
		invitations: invitations,
		authorizer:  authorizer,
		sink:        sink,
		cfg:         cfg,
	}
}

func (a *testApp) register(t *testing.T, name, email, password string) *savvy.User {
	t.Helper()

	user, _, err := a.session.Register(context.Background(), name, email, password)
	require.NoError(t, err)
	return user
}

func TestRegisterFlow(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	user, pair, err := app.session.Register(ctx, "Ada", "  Ada@Example.com ", "password123")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "password123", user.PasswordHash)

	t.Run("signup opens a session", func(t *testing.T) {
		require.NotNil(t, pair)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)

		count, err := app.db.NewSelect().
			Model((*savvy.RefreshSession)(nil)).
			Where("user_id = ?", user.ID).
			Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("the signup tokens are usable", func(t *testing.T) {
		identity, err := app.session.Authenticate(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())

		rotated, err := app.session.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, rotated.RefreshToken)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, _, err := app.session.Register(ctx, "Other", "ada@example.com", "password456")
		assert.ErrorIs(t, err, savvy.ErrDuplicateEmail)
	})

	t.Run("duplicate email with different casing", func(t *testing.T) {
		_, _, err := app.session.Register(ctx, "Other", "ADA@example.com", "password456")
		assert.ErrorIs(t, err, savvy.ErrDuplicateEmail)
	})

	assert.Contains(t, app.sink.Types(), savvy.ActivityEventUserRegistered)
}

func TestLoginFlow(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	app.register(t, "Ada", "ada@example.com", "password123")

	t.Run("valid credentials", func(t *testing.T) {
		pair, err := app.session.Login(ctx, "ada@example.com", "password123")

		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
		assert.Equal(t, "JWT", pair.TokenType)
		assert.True(t, pair.ExpiresAt.After(time.Now()))

		assert.Contains(t, app.sink.Types(), savvy.ActivityEventLoginSuccess)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := app.session.Login(ctx, "ada@example.com", "wrong-password")
		assert.ErrorIs(t, err, savvy.ErrInvalidCredentials)
	})

	t.Run("unknown email reports the same failure", func(t *testing.T) {
		_, err := app.session.Login(ctx, "ghost@example.com", "password123")
		assert.ErrorIs(t, err, savvy.ErrInvalidCredentials)

		assert.Contains(t, app.sink.Types(), savvy.ActivityEventLoginFailure)
	})
}

func TestLoginThrottle(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	app.register(t, "Ada", "ada@example.com", "password123")

	for i := 0; i <= savvy.MaxLoginAttempts; i++ {
		_, err := app.session.Login(ctx, "ada@example.com", "wrong-password")
		assert.ErrorIs(t, err, savvy.ErrInvalidCredentials, "attempt %d", i)
	}

	// the budget is spent, even the right password is refused
	_, err := app.session.Login(ctx, "ada@example.com", "password123")
	assert.ErrorIs(t, err, savvy.ErrTooManyLoginAttempts)
}

func TestRefreshRotation(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	app.register(t, "Ada", "ada@example.com", "password123")
	first, err := app.session.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	second, err := app.session.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Contains(t, app.sink.Types(), savvy.ActivityEventTokenRefreshed)

	t.Run("replaying the rotated token fails", func(t *testing.T) {
		_, err := app.session.Refresh(ctx, first.RefreshToken)
		assert.ErrorIs(t, err, savvy.ErrSessionRevoked)
	})

	t.Run("the successor still works", func(t *testing.T) {
		third, err := app.session.Refresh(ctx, second.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, third.RefreshToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := app.session.Refresh(ctx, "garbage")
		assert.True(t, savvy.IsMalformedError(err))
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := app.session.Refresh(ctx, second.AccessToken)
		assert.Error(t, err)
	})

	t.Run("valid token with no backing row", func(t *testing.T) {
		service := savvy.NewTokenService(app.cfg, nil)
		orphan, err := service.Issue(uuid.NewString(), savvy.TokenKindRefresh)
		require.NoError(t, err)

		_, err = app.session.Refresh(ctx, orphan)
		assert.ErrorIs(t, err, savvy.ErrSessionNotFound)
	})
}

func TestRefreshExpiredSession(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	app.register(t, "Ada", "ada@example.com", "password123")
	pair, err := app.session.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	// Age the stored row past its deadline without touching the token.
	past := time.Now().Add(-time.Hour)
	_, err = app.db.NewUpdate().
		Model((*savvy.RefreshSession)(nil)).
		Set("expires_at = ?", past).
		Where("revoked = FALSE").
		Exec(ctx)
	require.NoError(t, err)

	_, err = app.session.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, savvy.ErrSessionExpired)

	// Detection terminalized the row.
	_, err = app.session.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, savvy.ErrSessionRevoked)
}

func TestLogout(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	app.register(t, "Ada", "ada@example.com", "password123")
	pair, err := app.session.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, app.session.Logout(ctx, pair.RefreshToken))
	assert.Contains(t, app.sink.Types(), savvy.ActivityEventSessionRevoked)

	t.Run("refresh after logout", func(t *testing.T) {
		_, err := app.session.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, savvy.ErrSessionRevoked)
	})

	t.Run("double logout", func(t *testing.T) {
		err := app.session.Logout(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, savvy.ErrSessionInvalidOrRevoked)
	})

	t.Run("garbage token", func(t *testing.T) {
		err := app.session.Logout(ctx, "garbage")
		assert.ErrorIs(t, err, savvy.ErrSessionInvalidOrRevoked)
	})

	t.Run("access token", func(t *testing.T) {
		err := app.session.Logout(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, savvy.ErrSessionInvalidOrRevoked)
	})
}

func TestAuthenticate(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	user := app.register(t, "Ada", "ada@example.com", "password123")
	pair, err := app.session.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	t.Run("access token resolves the identity", func(t *testing.T) {
		identity, err := app.session.Authenticate(ctx, pair.AccessToken)

		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
		assert.Equal(t, "ada@example.com", identity.Email())
	})

	t.Run("refresh token is rejected", func(t *testing.T) {
		_, err := app.session.Authenticate(ctx, pair.RefreshToken)
		assert.Error(t, err)
	})

	t.Run("session from token", func(t *testing.T) {
		session, err := app.session.SessionFromToken(pair.AccessToken)

		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), session.GetUserID())
		assert.Equal(t, savvy.TokenKindAccess, session.GetTokenKind())
		assert.Equal(t, app.cfg.issuer, session.GetIssuer())
	})
}

func TestGroupService(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	owner := app.register(t, "Ada", "ada@example.com", "password123")
	outsider := app.register(t, "Eve", "eve@example.com", "password123")

	group, err := app.groups.Create(ctx, owner.ID, &savvy.Group{
		Name:  "Lisbon Trip",
		Color: "#ffaa00",
		Icon:  "plane",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, group.ID)
	assert.Contains(t, app.sink.Types(), savvy.ActivityEventGroupCreated)

	t.Run("creator is seeded as admin", func(t *testing.T) {
		membership, err := app.repo.Memberships().GetForUserGroup(ctx, owner.ID, group.ID)
		require.NoError(t, err)
		assert.Equal(t, savvy.RoleAdmin, membership.Role)
	})

	t.Run("member can read the group", func(t *testing.T) {
		got, err := app.groups.Get(ctx, owner.ID, group.ID)
		require.NoError(t, err)
		assert.Equal(t, "Lisbon Trip", got.Name)
	})

	t.Run("outsiders cannot see the group", func(t *testing.T) {
		_, err := app.groups.Get(ctx, outsider.ID, group.ID)
		assert.ErrorIs(t, err, savvy.ErrGroupNotFound)
	})

	t.Run("missing group looks identical", func(t *testing.T) {
		_, err := app.groups.Get(ctx, owner.ID, uuid.New())
		assert.ErrorIs(t, err, savvy.ErrGroupNotFound)
	})

	t.Run("list includes the group with the caller's role", func(t *testing.T) {
		records, err := app.groups.List(ctx, owner.ID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.NotNil(t, records[0].Group)
		assert.Equal(t, group.ID, records[0].Group.ID)
		assert.Equal(t, savvy.RoleAdmin, records[0].Role)
	})

	t.Run("outsider list is empty", func(t *testing.T) {
		records, err := app.groups.List(ctx, outsider.ID)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestGroupUpdate(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	owner := app.register(t, "Ada", "ada@example.com", "password123")
	member := app.register(t, "Bob", "bob@example.com", "password123")
	outsider := app.register(t, "Eve", "eve@example.com", "password123")

	group, err := app.groups.Create(ctx, owner.ID, &savvy.Group{
		Name:  "Lisbon Trip",
		Color: "#ffaa00",
		Icon:  "plane",
	})
	require.NoError(t, err)

	_, err = app.repo.Memberships().Grant(ctx, &savvy.Membership{
		UserID:  member.ID,
		GroupID: group.ID,
		Role:    savvy.RoleMember,
	})
	require.NoError(t, err)

	t.Run("admin can rename", func(t *testing.T) {
		name := "Porto Trip"
		updated, err := app.groups.Update(ctx, owner.ID, group.ID, savvy.GroupUpdate{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Porto Trip", updated.Name)

		got, err := app.groups.Get(ctx, owner.ID, group.ID)
		require.NoError(t, err)
		assert.Equal(t, "Porto Trip", got.Name)
		assert.Equal(t, "#ffaa00", got.Color, "untouched fields survive")

		assert.Contains(t, app.sink.Types(), savvy.ActivityEventGroupUpdated)
	})

	t.Run("partial patch", func(t *testing.T) {
		color := "#00aaff"
		icon := "train"
		updated, err := app.groups.Update(ctx, owner.ID, group.ID, savvy.GroupUpdate{
			Color: &color,
			Icon:  &icon,
		})
		require.NoError(t, err)
		assert.Equal(t, "Porto Trip", updated.Name)
		assert.Equal(t, "#00aaff", updated.Color)
		assert.Equal(t, "train", updated.Icon)
	})

	t.Run("members cannot manage the group", func(t *testing.T) {
		name := "Hijacked"
		_, err := app.groups.Update(ctx, member.ID, group.ID, savvy.GroupUpdate{Name: &name})
		assert.ErrorIs(t, err, savvy.ErrInsufficientPrivileges)
	})

	t.Run("outsiders get not found", func(t *testing.T) {
		name := "Hijacked"
		_, err := app.groups.Update(ctx, outsider.ID, group.ID, savvy.GroupUpdate{Name: &name})
		assert.ErrorIs(t, err, savvy.ErrGroupNotFound)
	})
}

func TestAuthorizer(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	owner := app.register(t, "Ada", "ada@example.com", "password123")
	member := app.register(t, "Bob", "bob@example.com", "password123")

	group, err := app.groups.Create(ctx, owner.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	_, err = app.repo.Memberships().Grant(ctx, &savvy.Membership{
		UserID:  member.ID,
		GroupID: group.ID,
		Role:    savvy.RoleMember,
	})
	require.NoError(t, err)

	t.Run("role is returned on success", func(t *testing.T) {
		role, err := app.authorizer.Require(ctx, member.ID, group.ID, savvy.PrivilegeView)
		require.NoError(t, err)
		assert.Equal(t, savvy.RoleMember, role)
	})

	t.Run("privilege gate", func(t *testing.T) {
		_, err := app.authorizer.Require(ctx, member.ID, group.ID, savvy.PrivilegeManageGroup)
		assert.ErrorIs(t, err, savvy.ErrInsufficientPrivileges)
	})

	t.Run("outsider gets not found", func(t *testing.T) {
		_, err := app.authorizer.Require(ctx, uuid.New(), group.ID, savvy.PrivilegeView)
		assert.ErrorIs(t, err, savvy.ErrGroupNotFound)
	})
}

func TestInvitationLifecycle(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	invitee := app.register(t, "Bob", "bob@example.com", "password123")
	third := app.register(t, "Cat", "cat@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	invitation, err := app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, savvy.InvitationPending, invitation.Status)
	assert.Equal(t, savvy.RoleMember, invitation.Role, "role defaults to member")
	assert.Contains(t, app.sink.Types(), savvy.ActivityEventInvitationCreated)

	t.Run("duplicate pending invite", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: admin.ID,
			InviteeID: invitee.ID,
		})
		assert.ErrorIs(t, err, savvy.ErrDuplicatePendingInvite)
	})

	t.Run("self invite", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: admin.ID,
			InviteeID: admin.ID,
		})
		assert.ErrorIs(t, err, savvy.ErrSelfInvite)
	})

	t.Run("emitter outside the group", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: third.ID,
			InviteeID: invitee.ID,
		})
		assert.ErrorIs(t, err, savvy.ErrEmitterNotInGroup)
	})

	t.Run("unknown invitee", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: admin.ID,
			InviteeID: uuid.New(),
		})
		assert.ErrorIs(t, err, savvy.ErrInviteeNotFound)
	})

	t.Run("invalid role", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: admin.ID,
			InviteeID: third.ID,
			Role:      "owner",
		})
		require.Error(t, err)
		assert.Equal(t, "INVALID_ROLE", savvy.AsRichError(err).TextCode)
	})

	t.Run("rsvp by a non-party hides the invitation", func(t *testing.T) {
		_, err := app.invitations.RSVP(ctx, invitation.ID, third.ID, true)
		assert.ErrorIs(t, err, savvy.ErrInvitationNotFound)
	})

	t.Run("withdraw by the invitee is hidden too", func(t *testing.T) {
		_, err := app.invitations.Withdraw(ctx, invitation.ID, invitee.ID)
		assert.ErrorIs(t, err, savvy.ErrInvitationNotFound)
	})

	t.Run("accept grants the membership", func(t *testing.T) {
		decided, err := app.invitations.RSVP(ctx, invitation.ID, invitee.ID, true)
		require.NoError(t, err)
		assert.Equal(t, savvy.InvitationAccepted, decided.Status)
		require.NotNil(t, decided.DecidedAt)

		membership, err := app.repo.Memberships().GetForUserGroup(ctx, invitee.ID, group.ID)
		require.NoError(t, err)
		assert.Equal(t, savvy.RoleMember, membership.Role)

		assert.Contains(t, app.sink.Types(), savvy.ActivityEventInvitationAccepted)
		assert.Contains(t, app.sink.Types(), savvy.ActivityEventMembershipGranted)
	})

	t.Run("deciding twice fails", func(t *testing.T) {
		_, err := app.invitations.RSVP(ctx, invitation.ID, invitee.ID, false)
		assert.ErrorIs(t, err, savvy.ErrAlreadyDecided)
	})

	t.Run("inviting an existing member fails", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: admin.ID,
			InviteeID: invitee.ID,
		})
		assert.ErrorIs(t, err, savvy.ErrAlreadyMember)
	})

	t.Run("member cannot invite under admin-only policy", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: invitee.ID,
			InviteeID: third.ID,
		})
		assert.ErrorIs(t, err, savvy.ErrInsufficientPrivileges)
	})
}

func TestInvitationReject(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	invitee := app.register(t, "Bob", "bob@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	invitation, err := app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	require.NoError(t, err)

	decided, err := app.invitations.RSVP(ctx, invitation.ID, invitee.ID, false)
	require.NoError(t, err)
	assert.Equal(t, savvy.InvitationRejected, decided.Status)
	assert.Contains(t, app.sink.Types(), savvy.ActivityEventInvitationRejected)

	// rejection grants nothing
	_, err = app.repo.Memberships().GetForUserGroup(ctx, invitee.ID, group.ID)
	assert.Error(t, err)

	// a fresh invitation may follow a rejection
	_, err = app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	assert.NoError(t, err)
}

func TestInvitationWithdraw(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	invitee := app.register(t, "Bob", "bob@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	invitation, err := app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	require.NoError(t, err)

	decided, err := app.invitations.Withdraw(ctx, invitation.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, savvy.InvitationWithdrawn, decided.Status)
	assert.Contains(t, app.sink.Types(), savvy.ActivityEventInvitationWithdrawn)

	// the invitee can no longer act on it
	_, err = app.invitations.RSVP(ctx, invitation.ID, invitee.ID, true)
	assert.ErrorIs(t, err, savvy.ErrAlreadyDecided)
}

func TestInvitePendingBeatsMembership(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	invitee := app.register(t, "Bob", "bob@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	_, err = app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	require.NoError(t, err)

	// The invitee joins through a side channel while the invite is still open.
	_, err = app.repo.Memberships().Grant(ctx, &savvy.Membership{
		UserID:  invitee.ID,
		GroupID: group.ID,
		Role:    savvy.RoleMember,
	})
	require.NoError(t, err)

	// Both conditions hold; the pending invite wins.
	_, err = app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	assert.ErrorIs(t, err, savvy.ErrDuplicatePendingInvite)
}

func TestRefreshConcurrentRedemption(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	app.register(t, "Ada", "ada@example.com", "password123")
	pair, err := app.session.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := app.session.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, savvy.ErrSessionRevoked):
			losses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one goroutine redeems the token")
	assert.Equal(t, 1, losses, "the other loses the compare-and-set")
}

func TestInvitationConcurrentDecision(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	invitee := app.register(t, "Bob", "bob@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	invitation, err := app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := app.invitations.RSVP(ctx, invitation.ID, invitee.ID, true)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := app.invitations.Withdraw(ctx, invitation.ID, admin.ID)
		results <- err
	}()
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, savvy.ErrAlreadyDecided):
			losses++
		default:
			t.Fatalf("unexpected decision error: %v", err)
		}
	}
	require.Equal(t, 1, wins, "exactly one side decides the invitation")
	require.Equal(t, 1, losses)

	// The outcome is consistent with whichever side won.
	decided, err := app.repo.Invitations().GetByID(ctx, invitation.ID.String())
	require.NoError(t, err)
	_, membershipErr := app.repo.Memberships().GetForUserGroup(ctx, invitee.ID, group.ID)
	if decided.Status == savvy.InvitationAccepted {
		assert.NoError(t, membershipErr, "acceptance carries its membership")
	} else {
		assert.Equal(t, savvy.InvitationWithdrawn, decided.Status)
		assert.Error(t, membershipErr, "withdrawal grants nothing")
	}
}

func TestInvitationLists(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	invitee := app.register(t, "Bob", "bob@example.com", "password123")
	outsider := app.register(t, "Eve", "eve@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	invitation, err := app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: admin.ID,
		InviteeID: invitee.ID,
	})
	require.NoError(t, err)

	t.Run("received box", func(t *testing.T) {
		records, err := app.invitations.ListReceived(ctx, invitee.ID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, invitation.ID, records[0].ID)
		require.NotNil(t, records[0].Group)
		assert.Equal(t, "Flat", records[0].Group.Name)
	})

	t.Run("sent box", func(t *testing.T) {
		records, err := app.invitations.ListSent(ctx, admin.ID)
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("status filter", func(t *testing.T) {
		records, err := app.invitations.ListReceived(ctx, invitee.ID, savvy.InvitationPending)
		require.NoError(t, err)
		assert.Len(t, records, 1)

		records, err = app.invitations.ListReceived(ctx, invitee.ID, savvy.InvitationAccepted)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("group box requires membership", func(t *testing.T) {
		records, err := app.invitations.ListForGroup(ctx, admin.ID, group.ID)
		require.NoError(t, err)
		assert.Len(t, records, 1)

		_, err = app.invitations.ListForGroup(ctx, outsider.ID, group.ID)
		assert.ErrorIs(t, err, savvy.ErrGroupNotFound)
	})
}

func TestInvitePolicyAdminAndMember(t *testing.T) {
	cfg := newTestConfig()
	cfg.invitePolicy = savvy.InvitePolicyAdminAndMember
	app := setupApp(t, cfg)
	ctx := context.Background()

	admin := app.register(t, "Ada", "ada@example.com", "password123")
	member := app.register(t, "Bob", "bob@example.com", "password123")
	viewer := app.register(t, "Vic", "vic@example.com", "password123")
	target := app.register(t, "Cat", "cat@example.com", "password123")

	group, err := app.groups.Create(ctx, admin.ID, &savvy.Group{Name: "Flat"})
	require.NoError(t, err)

	for _, m := range []*savvy.Membership{
		{UserID: member.ID, GroupID: group.ID, Role: savvy.RoleMember},
		{UserID: viewer.ID, GroupID: group.ID, Role: savvy.RoleViewer},
	} {
		_, err := app.repo.Memberships().Grant(ctx, m)
		require.NoError(t, err)
	}

	t.Run("member can invite", func(t *testing.T) {
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: member.ID,
			InviteeID: target.ID,
		})
		assert.NoError(t, err)
	})

	t.Run("viewer still cannot", func(t *testing.T) {
		inviteeID := app.register(t, "Dan", "dan@example.com", "password123").ID
		_, err := app.invitations.Invite(ctx, savvy.InviteRequest{
			GroupID:   group.ID,
			EmitterID: viewer.ID,
			InviteeID: inviteeID,
		})
		assert.ErrorIs(t, err, savvy.ErrInsufficientPrivileges)
	})
}

func TestEndToEndScenario(t *testing.T) {
	app := setupApp(t, nil)
	ctx := context.Background()

	// Two people sign up, one founds a group, invites the other, and the
	// invitee joins, refreshes, and signs out.
	app.register(t, "Ada", "ada@example.com", "password123")
	bob := app.register(t, "Bob", "bob@example.com", "password456")

	adaPair, err := app.session.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	adaIdentity, err := app.session.Authenticate(ctx, adaPair.AccessToken)
	require.NoError(t, err)
	adaID, err := uuid.Parse(adaIdentity.ID())
	require.NoError(t, err)

	group, err := app.groups.Create(ctx, adaID, &savvy.Group{Name: "Household"})
	require.NoError(t, err)

	invitation, err := app.invitations.Invite(ctx, savvy.InviteRequest{
		GroupID:   group.ID,
		EmitterID: adaID,
		InviteeID: bob.ID,
		Role:      savvy.RoleMember,
	})
	require.NoError(t, err)

	_, err = app.invitations.RSVP(ctx, invitation.ID, bob.ID, true)
	require.NoError(t, err)

	got, err := app.groups.Get(ctx, bob.ID, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Household", got.Name)

	bobPair, err := app.session.Login(ctx, "bob@example.com", "password456")
	require.NoError(t, err)

	rotated, err := app.session.Refresh(ctx, bobPair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, app.session.Logout(ctx, rotated.RefreshToken))

	_, err = app.session.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, savvy.ErrSessionRevoked)
}
