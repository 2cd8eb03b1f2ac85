// Package window maintains a gap-free, index-stable view over a cursor-paginated
// message stream.
//
// It reconciles three independent sources into one ordered, deduplicated
// sequence: pages fetched through a Pager, changes delivered by a PushSource,
// and completions of locally submitted messages. Every element carries a
// virtual index (origin + position) that stays fixed while older history is
// prepended, so a virtualized renderer can key rows by index.
package window

import (
	"fmt"
	"strings"
	"time"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// ParseStatus validates a wire status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusSent, StatusDelivered, StatusRead:
		return st, nil
	default:
		return "", fmt.Errorf("window: unknown status %q", s)
	}
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderOperator Sender = "operator"
	SenderSystem   Sender = "system"
)

// ParseSender validates a wire sender string.
func ParseSender(s string) (Sender, error) {
	switch sd := Sender(strings.ToLower(strings.TrimSpace(s))); sd {
	case SenderCustomer, SenderOperator, SenderSystem:
		return sd, nil
	default:
		return "", fmt.Errorf("window: unknown sender %q", s)
	}
}

// Message is one immutable entry of the stream. Updates replace it wholesale.
type Message struct {
	ID             string
	ConversationID string
	ClientMsgID    string
	Text           string
	Status         Status
	Sender         Sender
	UpdatedAt      time.Time
}

// Edge pairs a message with the opaque cursor the backend minted for it.
// Only the pager's transport may interpret Cursor.
type Edge struct {
	Message Message
	Cursor  string
}

// PageInfo describes what lies around a page or the loaded window.
type PageInfo struct {
	StartCursor     string
	EndCursor       string
	HasPreviousPage bool
	HasNextPage     bool
}

// Page is a run of edges ordered oldest to newest.
type Page struct {
	Edges    []Edge
	PageInfo PageInfo
}

// Messages returns the page's messages without cursors.
func (p Page) Messages() []Message {
	out := make([]Message, 0, len(p.Edges))
	for _, e := range p.Edges {
		out = append(out, e.Message)
	}
	return out
}

// ChangeKind distinguishes push-channel events.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
)

// Change is one push-channel event.
type Change struct {
	Kind    ChangeKind
	Message Message
}

// Source tells the merger where a batch came from, which decides where
// new messages are placed.
type Source string

const (
	// SourcePage is a backward (older) page; insertions are prepended.
	SourcePage Source = "page"
	// SourcePush is a push-channel delivery; insertions are appended.
	SourcePush Source = "push"
	// SourceLocal is a send completion; insertions are appended.
	SourceLocal Source = "local"
	// SourceForward is a forward catch-up page; insertions are appended.
	SourceForward Source = "forward"
)
