package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"msgwindow/cmd/internal/ids"
	"msgwindow/cmd/internal/window"
)

const (
	memMaxMessagesPerConversation = 10_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// It supports:
//   - AppendMessage: idempotent + seq allocation
//   - UpdateStatus: forward-only status transitions
//   - FetchPage: paging after/before a seq or from the tail
type InMemoryStore struct {
	mu    sync.Mutex
	ids   *ids.Monotonic
	max   int
	convs map[string]*memConv
}

type memConv struct {
	seq    int64
	dedupe map[string]int64 // client_msg_id -> seq
	byID   map[string]int64 // message id -> seq
	msgs   []StoredMessage  // ordered by seq
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		ids:   ids.NewMonotonic(),
		max:   memMaxMessagesPerConversation,
		convs: make(map[string]*memConv),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (c *memConv) index(seq int64) int {
	i := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].Seq >= seq })
	if i < len(c.msgs) && c.msgs[i].Seq == seq {
		return i
	}
	return -1
}

// AppendMessage persists a message with idempotency and monotonic sequence allocation.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if err := in.validate(); err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Microsecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		c = &memConv{
			dedupe: make(map[string]int64),
			byID:   make(map[string]int64),
			msgs:   make([]StoredMessage, 0, 256),
		}
		s.convs[in.ConversationID] = c
	}

	if seq, ok := c.dedupe[in.ClientMsgID]; ok {
		if i := c.index(seq); i >= 0 {
			return AppendMessageResult{Stored: c.msgs[i], Duplicated: true}, nil
		}
	}

	id, err := s.ids.New(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	c.seq++
	msg := StoredMessage{
		ID:             id,
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		Seq:            c.seq,
		SenderSession:  in.SenderSession,
		Sender:         in.Sender,
		Text:           in.Text,
		Status:         window.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.dedupe[in.ClientMsgID] = msg.Seq
	c.byID[msg.ID] = msg.Seq
	c.msgs = append(c.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if over := len(c.msgs) - s.max; over > 0 {
		for _, old := range c.msgs[:over] {
			delete(c.dedupe, old.ClientMsgID)
			delete(c.byID, old.ID)
		}
		c.msgs = append(c.msgs[:0:0], c.msgs[over:]...)
	}

	return AppendMessageResult{Stored: msg, Duplicated: false}, nil
}

// UpdateStatus advances a message's status and bumps UpdatedAt.
func (s *InMemoryStore) UpdateStatus(ctx context.Context, in UpdateStatusInput) (UpdateStatusResult, error) {
	if err := in.validate(); err != nil {
		return UpdateStatusResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return UpdateStatusResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return UpdateStatusResult{}, ErrNotFound
	}
	seq, ok := c.byID[in.MessageID]
	if !ok {
		return UpdateStatusResult{}, ErrNotFound
	}
	i := c.index(seq)
	if i < 0 {
		return UpdateStatusResult{}, ErrNotFound
	}

	m := c.msgs[i]
	if statusRank(in.Status) <= statusRank(m.Status) {
		return UpdateStatusResult{Stored: m, Changed: false}, nil
	}
	m.Status = in.Status
	m.UpdatedAt = nextUpdatedAt(m.UpdatedAt, now)
	c.msgs[i] = m

	return UpdateStatusResult{Stored: m, Changed: true}, nil
}

// FetchPage returns one page ordered by seq ASC.
func (s *InMemoryStore) FetchPage(ctx context.Context, in FetchPageInput) (FetchPageResult, error) {
	if err := in.validate(); err != nil {
		return FetchPageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FetchPageResult{}, err
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil || len(c.msgs) == 0 {
		return FetchPageResult{}, nil
	}
	all := c.msgs
	n := len(all)

	var start, end int
	switch {
	case in.Last:
		end = n
		start = max(0, end-limit)
	case in.BeforeSeq != nil:
		before := *in.BeforeSeq
		end = sort.Search(n, func(i int) bool { return all[i].Seq >= before })
		start = max(0, end-limit)
	case in.AfterSeq != nil:
		after := *in.AfterSeq
		start = sort.Search(n, func(i int) bool { return all[i].Seq > after })
		end = min(n, start+limit)
	default:
		end = min(n, limit)
	}

	return FetchPageResult{
		Messages:    append([]StoredMessage(nil), all[start:end]...),
		HasPrevious: start > 0,
		HasNext:     end < n,
	}, nil
}
