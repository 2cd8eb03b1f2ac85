package realtime

import (
	"sync"

	"msgwindow/cmd/internal/window"
	v1 "msgwindow/shared/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is NOT closed by the server; concurrent broadcasters may still hold it.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	mu     sync.RWMutex
	sender window.Sender

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
// Sessions author messages as customers until hello says otherwise.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		sender:    window.SenderCustomer,
		done:      make(chan struct{}),
	}
}

// Sender is the role recorded on messages this session sends.
func (c *Client) Sender() window.Sender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sender
}

// SetSender changes the session role.
func (c *Client) SetSender(s window.Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
