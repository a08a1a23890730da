package savvy

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered      ActivityEventType = "auth.user.registered"
	ActivityEventLoginSuccess        ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure        ActivityEventType = "auth.login.failure"
	ActivityEventTokenRefreshed      ActivityEventType = "auth.token.refreshed"
	ActivityEventSessionRevoked      ActivityEventType = "auth.session.revoked"
	ActivityEventGroupCreated        ActivityEventType = "group.created"
	ActivityEventGroupUpdated        ActivityEventType = "group.updated"
	ActivityEventInvitationCreated   ActivityEventType = "invitation.created"
	ActivityEventInvitationAccepted  ActivityEventType = "invitation.accepted"
	ActivityEventInvitationRejected  ActivityEventType = "invitation.rejected"
	ActivityEventInvitationWithdrawn ActivityEventType = "invitation.withdrawn"
	ActivityEventMembershipGranted   ActivityEventType = "group.membership.granted"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	GroupID    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
