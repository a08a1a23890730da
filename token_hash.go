package savvy

import (
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// sessionTokenHash derives the deterministic digest stored in the
// refresh_sessions.token_hash column. The plaintext refresh token is never
// persisted; lookups recompute the digest and hit the unique index.
func sessionTokenHash(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrNoEmptyString
	}
	id, err := hashid.NewUUID(token)
	if err != nil {
		return uuid.Nil, ErrUnableToHashToken
	}
	return id, nil
}
