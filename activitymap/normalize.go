package activitymap

import (
	"strings"
	"time"

	savvy "github.com/asieraduriz/savvy-expense-tracker"
)

const (
	// MetadataKeyGroupID stores the group id for group-scoped events.
	MetadataKeyGroupID = "group_id"
)

const (
	defaultChannel  = "auth"
	defaultActorID  = "system"
	objectTypeUser  = "user"
	objectTypeGroup = "group"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	actorFallback    string
	objectIDResolver func(savvy.ActivityEvent) string
}

// Normalize converts a savvy.ActivityEvent into a generic normalized shape.
// Group-scoped events target the group object; everything else targets the
// acting user.
func Normalize(event savvy.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event, options.objectIDResolver)

	channel := options.channel
	if channel == "" {
		channel = channelFor(event.EventType)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithChannel pins the channel for normalized records instead of deriving it
// from the event type.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectIDResolver overrides object-id extraction from the event.
func WithObjectIDResolver(resolver func(savvy.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event carries none.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		actorFallback: defaultActorID,
	}
}

// channelFor maps the dotted event-type prefix to a channel, falling back to
// "auth" for unprefixed types.
func channelFor(eventType savvy.ActivityEventType) string {
	name := string(eventType)
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx]
	}
	return defaultChannel
}

func resolveObject(event savvy.ActivityEvent, resolver func(savvy.ActivityEvent) string) (string, string) {
	if resolver != nil {
		return objectTypeUser, strings.TrimSpace(resolver(event))
	}
	if groupID := strings.TrimSpace(event.GroupID); groupID != "" {
		return objectTypeGroup, groupID
	}
	return objectTypeUser, strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event savvy.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if groupID := strings.TrimSpace(event.GroupID); groupID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyGroupID]; !exists {
			metadata[MetadataKeyGroupID] = groupID
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
