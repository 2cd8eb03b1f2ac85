// Package v1 defines the msgwindow Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the reference backend and its clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated by both sides.
const Subprotocol = "msgwindow.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeConversationJoin joins a conversation (client -> server) and is echoed back.
	TypeConversationJoin = "conversation_join"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request with the canonical message (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageUpdate requests a status change for an existing message (client -> server).
	TypeMessageUpdate = "message_update"
	// TypeMessageChanged broadcasts an added or updated message (server -> conversation members).
	TypeMessageChanged = "message_changed"

	// TypeHistoryFetch requests one page of conversation history (client -> server).
	TypeHistoryFetch = "history_fetch"
	// TypeHistoryPage returns one page of history (server -> client).
	TypeHistoryPage = "history_page"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Change kinds carried by MessageChangedPayload.
const (
	ChangeAdded   = "added"
	ChangeUpdated = "updated"
)

// Envelope is the canonical wire wrapper.
//
// ReplyTo carries the ID of the request envelope for request/response pairs
// (history_page, message_ack, error).
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationJoin,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageUpdate,
		TypeMessageChanged,
		TypeHistoryFetch,
		TypeHistoryPage,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
// Role selects the sender recorded on messages sent by this session.
type HelloPayload struct {
	Role string `json:"role,omitempty"`
}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

// ConversationJoinPayload requests membership in a conversation.
type ConversationJoinPayload struct {
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind,omitempty"`
}

// MessagePayload is the canonical message representation on the wire.
type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	Text           string    `json:"text"`
	Status         string    `json:"status"`
	Sender         string    `json:"sender"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MessageSendPayload requests sending a message into a conversation.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Text           string `json:"text"`
}

// MessageAckPayload acknowledges a send request and returns the stored message.
type MessageAckPayload struct {
	Message    MessagePayload `json:"message"`
	Duplicated bool           `json:"duplicated,omitempty"`
}

// MessageUpdatePayload requests a status transition for one message.
type MessageUpdatePayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status"`
}

// MessageChangedPayload is broadcast when a message is added or updated.
type MessageChangedPayload struct {
	ChangeKind string         `json:"change_kind"`
	Message    MessagePayload `json:"message"`
}

// HistoryFetchPayload requests one page of history.
//
// At most one of AfterCursor, BeforeCursor and Last may be set.
// Cursors are opaque values previously returned by the server.
type HistoryFetchPayload struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
	AfterCursor    string `json:"after_cursor,omitempty"`
	BeforeCursor   string `json:"before_cursor,omitempty"`
	Last           bool   `json:"last,omitempty"`
}

// Validate rejects ambiguous history requests.
func (p HistoryFetchPayload) Validate() error {
	set := 0
	if p.AfterCursor != "" {
		set++
	}
	if p.BeforeCursor != "" {
		set++
	}
	if p.Last {
		set++
	}
	if set > 1 {
		return errors.New("at most one of after_cursor, before_cursor, last")
	}
	return nil
}

// EdgePayload pairs a message with its opaque cursor.
type EdgePayload struct {
	Message MessagePayload `json:"message"`
	Cursor  string         `json:"cursor"`
}

// PageInfoPayload describes the neighbourhood of a returned page.
type PageInfoPayload struct {
	StartCursor     string `json:"start_cursor,omitempty"`
	EndCursor       string `json:"end_cursor,omitempty"`
	HasPreviousPage bool   `json:"has_previous_page"`
	HasNextPage     bool   `json:"has_next_page"`
}

// HistoryPagePayload returns one page of edges ordered oldest to newest.
type HistoryPagePayload struct {
	ConversationID string          `json:"conversation_id"`
	Edges          []EdgePayload   `json:"edges"`
	PageInfo       PageInfoPayload `json:"page_info"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
