// Package wsclient speaks the realtime v1 protocol to the gateway.
//
// A Client joins exactly one conversation and exposes it through the
// interfaces the window controller consumes: it is a pager transport
// (including the "last N" shortcut), a message sender and a push source.
// Requests are correlated with responses by envelope id / reply_to.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"msgwindow/cmd/internal/pager"
	"msgwindow/cmd/internal/window"
	"msgwindow/cmd/internal/wire"
	v1 "msgwindow/shared/contracts/realtime/v1"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultPushBuffer     = 64
	maxReadBytes          = 1 << 20
)

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("wsclient: closed")

// ServerError is an error envelope returned in reply to a request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("wsclient: server error %s: %s", e.Code, e.Message)
}

// Config describes where to connect and which conversation to join.
type Config struct {
	URL            string
	Origin         string
	ConversationID string
	Role           string

	DialTimeout    time.Duration
	RequestTimeout time.Duration
	PushBuffer     int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.PushBuffer <= 0 {
		c.PushBuffer = defaultPushBuffer
	}
	return c
}

type subscriber struct {
	ctx context.Context
	in  chan window.Change
}

// Client is a joined realtime session. It is safe for concurrent use.
type Client struct {
	log  *slog.Logger
	conn *websocket.Conn
	cfg  Config

	sessionID string
	role      string

	mu      sync.Mutex
	pending map[string]chan v1.Envelope
	subs    map[int]*subscriber
	nextSub int
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ pager.Transport      = (*Client)(nil)
	_ pager.TailTransport  = (*Client)(nil)
	_ window.MessageSender = (*Client)(nil)
	_ window.PushSource    = (*Client)(nil)
)

// Dial connects, says hello and joins cfg.ConversationID.
func Dial(ctx context.Context, log *slog.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("wsclient: missing url")
	}
	if strings.TrimSpace(cfg.ConversationID) == "" {
		return nil, errors.New("wsclient: missing conversation id")
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	hdr := http.Header{}
	if cfg.Origin != "" {
		hdr.Set("Origin", cfg.Origin)
	}
	conn, _, err := websocket.Dial(dctx, cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol mismatch")
		return nil, fmt.Errorf("wsclient: server selected subprotocol %q", sp)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &Client{
		log:     log.With("conversation_id", cfg.ConversationID),
		conn:    conn,
		cfg:     cfg,
		pending: make(map[string]chan v1.Envelope),
		subs:    make(map[int]*subscriber),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	if err := c.handshake(dctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.log.Info("wsclient.joined", "session_id", c.sessionID, "role", c.role)
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	env, err := c.request(ctx, v1.TypeHello, v1.HelloPayload{Role: c.cfg.Role}, v1.TypeHelloAck)
	if err != nil {
		return fmt.Errorf("wsclient: hello: %w", err)
	}
	ack, err := wire.Decode[v1.HelloAckPayload](env)
	if err != nil {
		return fmt.Errorf("wsclient: hello: %w", err)
	}
	c.sessionID, c.role = ack.SessionID, ack.Role

	if _, err := c.request(ctx, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: c.cfg.ConversationID}, v1.TypeConversationJoin); err != nil {
		return fmt.Errorf("wsclient: join: %w", err)
	}
	return nil
}

// SessionID is the id the server assigned in hello_ack.
func (c *Client) SessionID() string { return c.sessionID }

// Role is the sender role the server recorded for this session.
func (c *Client) Role() string { return c.role }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the session.
func (c *Client) Close() error {
	c.terminate(ErrClosed)
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// FetchPage requests one page relative to a cursor.
func (c *Client) FetchPage(ctx context.Context, req pager.Request) (window.Page, error) {
	return c.history(ctx, v1.HistoryFetchPayload{
		ConversationID: c.cfg.ConversationID,
		Limit:          req.Limit,
		AfterCursor:    req.After,
		BeforeCursor:   req.Before,
	})
}

// FetchLast requests the newest limit messages.
func (c *Client) FetchLast(ctx context.Context, limit int) (window.Page, error) {
	return c.history(ctx, v1.HistoryFetchPayload{ConversationID: c.cfg.ConversationID, Limit: limit, Last: true})
}

func (c *Client) history(ctx context.Context, p v1.HistoryFetchPayload) (window.Page, error) {
	env, err := c.request(ctx, v1.TypeHistoryFetch, p, v1.TypeHistoryPage)
	if err != nil {
		return window.Page{}, err
	}
	payload, err := wire.Decode[v1.HistoryPagePayload](env)
	if err != nil {
		return window.Page{}, err
	}
	return wire.Page(payload)
}

// Send posts text with a fresh client_msg_id and returns the stored message.
func (c *Client) Send(ctx context.Context, text string) (window.Message, error) {
	return c.SendWithID(ctx, uuid.NewString(), text)
}

// SendWithID posts text with a caller-chosen client_msg_id. Retrying with the
// same id is deduplicated by the server.
func (c *Client) SendWithID(ctx context.Context, clientMsgID, text string) (window.Message, error) {
	env, err := c.request(ctx, v1.TypeMessageSend, v1.MessageSendPayload{
		ConversationID: c.cfg.ConversationID,
		ClientMsgID:    clientMsgID,
		Text:           text,
	}, v1.TypeMessageAck)
	if err != nil {
		return window.Message{}, err
	}
	return ackMessage(env)
}

// UpdateStatus advances a message's delivery status.
func (c *Client) UpdateStatus(ctx context.Context, messageID string, status window.Status) (window.Message, error) {
	env, err := c.request(ctx, v1.TypeMessageUpdate, v1.MessageUpdatePayload{
		ConversationID: c.cfg.ConversationID,
		MessageID:      messageID,
		Status:         string(status),
	}, v1.TypeMessageAck)
	if err != nil {
		return window.Message{}, err
	}
	return ackMessage(env)
}

func ackMessage(env v1.Envelope) (window.Message, error) {
	ack, err := wire.Decode[v1.MessageAckPayload](env)
	if err != nil {
		return window.Message{}, err
	}
	return wire.Message(ack.Message)
}

// Subscribe streams message_changed events for the joined conversation.
// The channel closes when ctx is canceled or the connection ends.
func (c *Client) Subscribe(ctx context.Context) (<-chan window.Change, error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	id := c.nextSub
	c.nextSub++
	sub := &subscriber{ctx: ctx, in: make(chan window.Change)}
	c.subs[id] = sub
	c.mu.Unlock()

	out := make(chan window.Change, c.cfg.PushBuffer)
	go func() {
		defer close(out)
		defer func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case ch := <-sub.in:
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				case <-c.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// request writes one envelope and waits for the reply carrying its id.
func (c *Client) request(ctx context.Context, typ string, payload any, want string) (v1.Envelope, error) {
	id := uuid.NewString()
	env, err := wire.NewEnvelope(typ, id, "", payload, time.Now())
	if err != nil {
		return v1.Envelope{}, err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return v1.Envelope{}, err
	}

	reply := make(chan v1.Envelope, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return v1.Envelope{}, c.err
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.conn.Write(rctx, websocket.MessageText, b); err != nil {
		return v1.Envelope{}, fmt.Errorf("wsclient: write %s: %w", typ, err)
	}

	select {
	case <-rctx.Done():
		return v1.Envelope{}, fmt.Errorf("wsclient: %s: %w", typ, rctx.Err())
	case <-c.done:
		return v1.Envelope{}, c.Err()
	case resp := <-reply:
		if resp.Type == v1.TypeError {
			p, err := wire.Decode[v1.ErrorPayload](resp)
			if err != nil {
				return v1.Envelope{}, err
			}
			return v1.Envelope{}, &ServerError{Code: p.Code, Message: p.Message}
		}
		if resp.Type != want {
			return v1.Envelope{}, fmt.Errorf("wsclient: %s: unexpected reply %s", typ, resp.Type)
		}
		return resp, nil
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.terminate(ErrClosed)
			} else {
				c.terminate(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("wsclient.read.bad_json", "err", err)
			continue
		}

		if env.ReplyTo != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ReplyTo]
			c.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		switch env.Type {
		case v1.TypeMessageChanged:
			c.dispatch(env)
		case v1.TypeError:
			p, _ := wire.Decode[v1.ErrorPayload](env)
			c.log.Warn("wsclient.server.error", "code", p.Code, "message", p.Message)
		default:
			c.log.Debug("wsclient.read.unhandled", "type", env.Type)
		}
	}
}

func (c *Client) dispatch(env v1.Envelope) {
	p, err := wire.Decode[v1.MessageChangedPayload](env)
	if err == nil && p.Message.ConversationID != "" && p.Message.ConversationID != c.cfg.ConversationID {
		return
	}
	var ch window.Change
	if err == nil {
		ch, err = wire.Change(p)
	}
	if err != nil {
		c.log.Warn("wsclient.push.decode.fail", "err", err)
		return
	}

	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		c.deliver(s, ch)
	}
}

// deliver blocks until the subscriber takes the change or goes away.
func (c *Client) deliver(s *subscriber, ch window.Change) {
	select {
	case s.in <- ch:
	case <-s.ctx.Done():
	case <-c.done:
	}
}

func (c *Client) terminate(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}
