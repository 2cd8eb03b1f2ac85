package realtime

import (
	"context"
	"errors"
	"time"

	"msgwindow/cmd/internal/window"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

var (
	// ErrNotFound is returned when a message id is unknown in its conversation.
	ErrNotFound = errors.New("realtime: message not found")
	// ErrInvalidInput is returned for structurally invalid store requests.
	ErrInvalidInput = errors.New("realtime: invalid input")
)

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	ID             string
	ConversationID string
	ClientMsgID    string
	Seq            int64
	SenderSession  string
	Sender         window.Sender
	Text           string
	Status         window.Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message projects the stored row onto the window model.
func (m StoredMessage) Message() window.Message {
	return window.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		Text:           m.Text,
		Status:         m.Status,
		Sender:         m.Sender,
		UpdatedAt:      m.UpdatedAt,
	}
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Idempotency per (conversation_id, client_msg_id)
//   - Monotonic seq per conversation (no gaps for duplicates)
//   - Pages ordered by seq ASC regardless of direction
//   - UpdatedAt strictly increases on every accepted update
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	UpdateStatus(ctx context.Context, in UpdateStatusInput) (UpdateStatusResult, error)
	FetchPage(ctx context.Context, in FetchPageInput) (FetchPageResult, error)
	Close() error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ConversationID string
	ClientMsgID    string
	SenderSession  string
	Sender         window.Sender
	Text           string
	Now            time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// UpdateStatusInput moves one message to a later delivery status.
type UpdateStatusInput struct {
	ConversationID string
	MessageID      string
	Status         window.Status
	Now            time.Time
}

// UpdateStatusResult reports the row after the update. Changed is false when
// the message already had the requested (or a later) status.
type UpdateStatusResult struct {
	Stored  StoredMessage
	Changed bool
}

// FetchPageInput describes a page query. At most one of AfterSeq, BeforeSeq
// and Last is set; none reads from the start.
type FetchPageInput struct {
	ConversationID string
	Limit          int
	AfterSeq       *int64
	BeforeSeq      *int64
	Last           bool
}

// FetchPageResult contains one page of history ordered by seq ASC.
type FetchPageResult struct {
	Messages    []StoredMessage
	HasPrevious bool
	HasNext     bool
}

func (in AppendMessageInput) validate() error {
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderSession == "" || in.Text == "" {
		return ErrInvalidInput
	}
	if _, err := window.ParseSender(string(in.Sender)); err != nil {
		return ErrInvalidInput
	}
	return nil
}

func (in UpdateStatusInput) validate() error {
	if in.ConversationID == "" || in.MessageID == "" {
		return ErrInvalidInput
	}
	if _, err := window.ParseStatus(string(in.Status)); err != nil {
		return ErrInvalidInput
	}
	return nil
}

func (in FetchPageInput) validate() error {
	if in.ConversationID == "" {
		return ErrInvalidInput
	}
	set := 0
	if in.AfterSeq != nil {
		set++
	}
	if in.BeforeSeq != nil {
		set++
	}
	if in.Last {
		set++
	}
	if set > 1 {
		return ErrInvalidInput
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// statusRank orders delivery states; a status never moves backwards.
func statusRank(s window.Status) int {
	switch s {
	case window.StatusSent:
		return 1
	case window.StatusDelivered:
		return 2
	case window.StatusRead:
		return 3
	default:
		return 0
	}
}

// nextUpdatedAt returns a timestamp strictly after prev, truncated to the
// microsecond precision Postgres stores.
func nextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
