package realtime

import (
	"time"

	"msgwindow/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by time, which keeps request/response pairs readable in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return RandomToken(13)
	}
	return id
}
