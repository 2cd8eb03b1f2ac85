package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory conversations and provides stable conversation handles.
// Persistence lives behind MessageStore.
type Hub struct {
	log *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:           log,
		conversations: make(map[string]*Conversation),
	}
}

// GetOrCreateConversation returns a stable in-memory conversation handle.
func (h *Hub) GetOrCreateConversation(conversationID string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conversations[conversationID]; ok {
		return c
	}

	c := NewConversation(h.log, conversationID)
	h.conversations[conversationID] = c
	return c
}

// Conversation returns the handle for an id if anyone ever joined it.
func (h *Hub) Conversation(conversationID string) (*Conversation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conversations[conversationID]
	return c, ok
}
