// Package wire converts between realtime v1 payloads and the window model.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"msgwindow/cmd/internal/window"
	v1 "msgwindow/shared/contracts/realtime/v1"
)

// ErrBadPayload wraps every decode or validation failure.
var ErrBadPayload = errors.New("wire: bad payload")

// NewEnvelope marshals payload into a v1 envelope.
func NewEnvelope(typ, id, replyTo string, payload any, ts time.Time) (v1.Envelope, error) {
	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, ReplyTo: replyTo, TS: ts.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return v1.Envelope{}, fmt.Errorf("wire: marshal %s: %w", typ, err)
		}
		env.Payload = b
	}
	return env, nil
}

// Decode unmarshals an envelope payload into T.
func Decode[T any](env v1.Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, fmt.Errorf("%w: %s: empty payload", ErrBadPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
	}
	return out, nil
}

// MessagePayload renders a message for the wire.
func MessagePayload(m window.Message) v1.MessagePayload {
	return v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		Text:           m.Text,
		Status:         string(m.Status),
		Sender:         string(m.Sender),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

// Message validates and converts a wire message.
func Message(p v1.MessagePayload) (window.Message, error) {
	if p.ID == "" {
		return window.Message{}, fmt.Errorf("%w: message without id", ErrBadPayload)
	}
	st, err := window.ParseStatus(p.Status)
	if err != nil {
		return window.Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	sd, err := window.ParseSender(p.Sender)
	if err != nil {
		return window.Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return window.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		ClientMsgID:    p.ClientMsgID,
		Text:           p.Text,
		Status:         st,
		Sender:         sd,
		UpdatedAt:      p.UpdatedAt,
	}, nil
}

// ChangePayload renders a push event.
func ChangePayload(ch window.Change) v1.MessageChangedPayload {
	return v1.MessageChangedPayload{ChangeKind: string(ch.Kind), Message: MessagePayload(ch.Message)}
}

// Change converts a push event.
func Change(p v1.MessageChangedPayload) (window.Change, error) {
	var kind window.ChangeKind
	switch p.ChangeKind {
	case v1.ChangeAdded:
		kind = window.ChangeAdded
	case v1.ChangeUpdated:
		kind = window.ChangeUpdated
	default:
		return window.Change{}, fmt.Errorf("%w: change kind %q", ErrBadPayload, p.ChangeKind)
	}
	m, err := Message(p.Message)
	if err != nil {
		return window.Change{}, err
	}
	return window.Change{Kind: kind, Message: m}, nil
}

// PagePayload renders one page of history.
func PagePayload(conversationID string, page window.Page) v1.HistoryPagePayload {
	edges := make([]v1.EdgePayload, 0, len(page.Edges))
	for _, e := range page.Edges {
		edges = append(edges, v1.EdgePayload{Message: MessagePayload(e.Message), Cursor: e.Cursor})
	}
	return v1.HistoryPagePayload{
		ConversationID: conversationID,
		Edges:          edges,
		PageInfo: v1.PageInfoPayload{
			StartCursor:     page.PageInfo.StartCursor,
			EndCursor:       page.PageInfo.EndCursor,
			HasPreviousPage: page.PageInfo.HasPreviousPage,
			HasNextPage:     page.PageInfo.HasNextPage,
		},
	}
}

// Page converts one page of history.
func Page(p v1.HistoryPagePayload) (window.Page, error) {
	out := window.Page{
		Edges: make([]window.Edge, 0, len(p.Edges)),
		PageInfo: window.PageInfo{
			StartCursor:     p.PageInfo.StartCursor,
			EndCursor:       p.PageInfo.EndCursor,
			HasPreviousPage: p.PageInfo.HasPreviousPage,
			HasNextPage:     p.PageInfo.HasNextPage,
		},
	}
	for i, e := range p.Edges {
		m, err := Message(e.Message)
		if err != nil {
			return window.Page{}, fmt.Errorf("edge %d: %w", i, err)
		}
		out.Edges = append(out.Edges, window.Edge{Message: m, Cursor: e.Cursor})
	}
	return out, nil
}
