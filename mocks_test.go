package savvy_test

import (
	"context"
	"sync"

	savvy "github.com/asieraduriz/savvy-expense-tracker"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/mock"
)

// testConfig implements savvy.Config with overridable fields.
type testConfig struct {
	accessKey    string
	refreshKey   string
	accessTTL    int
	refreshTTL   int
	contextKey   string
	tokenLookup  string
	authScheme   string
	issuer       string
	audience     []string
	invitePolicy savvy.InvitePolicy
}

func newTestConfig() *testConfig {
	return &testConfig{
		accessKey:    "test-access-secret",
		refreshKey:   "test-refresh-secret",
		accessTTL:    60,
		refreshTTL:   60 * 24,
		contextKey:   "user",
		tokenLookup:  "header:Authorization",
		authScheme:   "JWT",
		issuer:       "test-issuer",
		audience:     []string{},
		invitePolicy: savvy.InvitePolicyAdminOnly,
	}
}

func (c *testConfig) GetAccessSigningKey() string         { return c.accessKey }
func (c *testConfig) GetRefreshSigningKey() string        { return c.refreshKey }
func (c *testConfig) GetAccessTokenExpiration() int       { return c.accessTTL }
func (c *testConfig) GetRefreshTokenExpiration() int      { return c.refreshTTL }
func (c *testConfig) GetContextKey() string               { return c.contextKey }
func (c *testConfig) GetTokenLookup() string              { return c.tokenLookup }
func (c *testConfig) GetAuthScheme() string               { return c.authScheme }
func (c *testConfig) GetIssuer() string                   { return c.issuer }
func (c *testConfig) GetAudience() []string               { return c.audience }
func (c *testConfig) GetInvitePolicy() savvy.InvitePolicy { return c.invitePolicy }

// MockUserTracker implements savvy.UserTracker
type MockUserTracker struct {
	mock.Mock
}

func (m *MockUserTracker) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*savvy.User, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*savvy.User), args.Error(1)
}

func (m *MockUserTracker) TrackAttemptedLogin(ctx context.Context, user *savvy.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserTracker) TrackSuccessfulLogin(ctx context.Context, user *savvy.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// capturingSink collects activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []savvy.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, event savvy.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingSink) Events() []savvy.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]savvy.ActivityEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *capturingSink) Types() []savvy.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]savvy.ActivityEventType, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.EventType)
	}
	return out
}
