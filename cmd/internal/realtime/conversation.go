package realtime

import (
	"log/slog"
	"sync"

	v1 "msgwindow/shared/contracts/realtime/v1"
)

// Conversation is an in-memory membership + broadcast fanout primitive.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Conversation struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewConversation constructs a conversation.
func NewConversation(log *slog.Logger, id string) *Conversation {
	return &Conversation{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (c *Conversation) Join(client *Client) {
	if c == nil || client == nil || client.SessionID == "" {
		return
	}

	c.mu.Lock()
	c.members[client.SessionID] = client
	c.mu.Unlock()

	c.log.Info("conversation.member.join", "conversation_id", c.ID, "session_id", client.SessionID)
}

// Leave removes a client from membership. It does not close the client; a
// session may switch conversations and keep running.
func (c *Conversation) Leave(sessionID string) {
	if c == nil || sessionID == "" {
		return
	}

	c.mu.Lock()
	_, ok := c.members[sessionID]
	delete(c.members, sessionID)
	c.mu.Unlock()

	if ok {
		c.log.Info("conversation.member.leave", "conversation_id", c.ID, "session_id", sessionID)
	}
}

// Members returns the current member count.
func (c *Conversation) Members() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Broadcast fans an envelope out to all members and reports how many
// queues accepted it and how many were full.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (c *Conversation) Broadcast(env v1.Envelope) (delivered, dropped int) {
	if c == nil {
		return 0, 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		c.log.Warn("conversation.broadcast.dropped", "conversation_id", c.ID, "type", env.Type, "dropped", dropped)
	}
	return delivered, dropped
}
