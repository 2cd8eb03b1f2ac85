package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"msgwindow/cmd/internal/window"
	"msgwindow/cmd/internal/wire"
	v1 "msgwindow/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second
	wsNotifyTimeout       = 2 * time.Second

	wsMaxPingFailures = 3

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	maxFrameBytes = 64 << 10
	// Runes. The Postgres column allows 4096.
	maxMessageChars = 4000

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default.
	wsDefaultOriginRequired = true
)

var wsDefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// GatewayConfig tunes the WebSocket gateway. Zero values fall back to defaults.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    wsDefaultOriginRequired,
		AllowedOrigins:    append([]string(nil), wsDefaultAllowedOrigins...),
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) normalized() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// ChangeNotifier publishes message changes beyond this process, e.g. to a
// message broker. Failures are logged and never fail the originating request.
type ChangeNotifier interface {
	PublishChange(ctx context.Context, change v1.MessageChangedPayload) error
}

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithGatewayConfig overrides the default gateway configuration.
func WithGatewayConfig(cfg GatewayConfig) GatewayOption {
	return func(g *WSGateway) { g.cfg = cfg.normalized() }
}

// WithChangeNotifier forwards every accepted change to n.
func WithChangeNotifier(n ChangeNotifier) GatewayOption {
	return func(g *WSGateway) { g.notifier = n }
}

// WSGateway is the WebSocket entrypoint for the message backend.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and routes validated envelopes to the Hub and MessageStore.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	store    MessageStore
	notifier ChangeNotifier
	cfg      GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway with secure defaults.
// When hub/store are nil, it falls back to in-memory implementations for dev.
func NewWSGateway(log *slog.Logger, hub *Hub, store MessageStore, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if store == nil {
		store = NewInMemoryStore()
	}

	g := &WSGateway{log: log, hub: hub, store: store, cfg: DefaultGatewayConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	// websocket.Accept enforces its own origin policy; derive its patterns
	// from the allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.cfg.AllowedOrigins)
	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now())
	if err != nil {
		sessionID = RandomToken(13)
	}
	client := NewClient(sessionID, g.cfg.SendQueueSize)
	log := g.log.With("session_id", sessionID)

	wsSessionsActive.Inc()
	defer wsSessionsActive.Dec()
	log.Info("ws.session.open", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		joinMu    sync.Mutex
		joined    *Conversation
	)
	current := func() *Conversation {
		joinMu.Lock()
		defer joinMu.Unlock()
		return joined
	}

	// shutdown is idempotent. It does NOT close client.Send.
	// Membership removal happens before client.Close so broadcasters never see a closing client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			joinMu.Lock()
			if joined != nil {
				joined.Leave(sessionID)
				joined = nil
			}
			joinMu.Unlock()

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.session.close", "code", code.String(), "reason", reason)
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "", "bad_json", "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if ok, wait := rl.Reserve(now); !ok {
			g.trySendError(ctx, client, env.ID, "rate_limited", fmt.Sprintf("too many events, retry in %s", wait.Round(time.Millisecond)))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, env.ID, "bad_envelope", err.Error())
			continue readLoop
		}
		wsEnvelopesTotal.WithLabelValues(env.Type).Inc()

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(ctx, client, env.ID, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeConversationJoin:
			conv, err := g.onJoin(ctx, client, env)
			if err != nil {
				g.trySendError(ctx, client, env.ID, "join_failed", err.Error())
				continue readLoop
			}

			// Leave the old conversation before switching.
			joinMu.Lock()
			if joined != nil && joined.ID != conv.ID {
				joined.Leave(sessionID)
			}
			joined = conv
			joinMu.Unlock()

		case v1.TypeMessageSend:
			conv := current()
			if conv == nil {
				g.trySendError(ctx, client, env.ID, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onMessageSend(ctx, client, conv, env, now); err != nil {
				g.trySendError(ctx, client, env.ID, errorCode("send_failed", err), err.Error())
				continue readLoop
			}

		case v1.TypeMessageUpdate:
			conv := current()
			if conv == nil {
				g.trySendError(ctx, client, env.ID, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onMessageUpdate(ctx, client, conv, env, now); err != nil {
				g.trySendError(ctx, client, env.ID, errorCode("update_failed", err), err.Error())
				continue readLoop
			}

		case v1.TypeHistoryFetch:
			conv := current()
			if conv == nil {
				g.trySendError(ctx, client, env.ID, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onHistoryFetch(ctx, client, conv, env); err != nil {
				g.trySendError(ctx, client, env.ID, errorCode("history_failed", err), err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, env.ID, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// errorCode maps well-known store errors to stable codes.
func errorCode(fallback string, err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBadCursor):
		return "bad_cursor"
	case errors.Is(err, wire.ErrBadPayload), errors.Is(err, ErrInvalidInput):
		return "bad_request"
	default:
		return fallback
	}
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		var err error
		if p, err = wire.Decode[v1.HelloPayload](env); err != nil {
			return err
		}
	}

	if p.Role != "" {
		sender, err := window.ParseSender(p.Role)
		if err != nil {
			return err
		}
		client.SetSender(sender)
	}

	ack, err := g.reply(v1.TypeHelloAck, env.ID, v1.HelloAckPayload{
		SessionID: client.SessionID,
		Role:      string(client.Sender()),
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello.ack")
	}
	return nil
}

func (g *WSGateway) onJoin(ctx context.Context, client *Client, env v1.Envelope) (*Conversation, error) {
	p, err := wire.Decode[v1.ConversationJoinPayload](env)
	if err != nil {
		return nil, err
	}

	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		return nil, errors.New("missing conversation_id")
	}

	conv := g.hub.GetOrCreateConversation(convID)
	conv.Join(client)

	echo, err := g.reply(v1.TypeConversationJoin, env.ID, v1.ConversationJoinPayload{ConversationID: conv.ID})
	if err != nil {
		conv.Leave(client.SessionID)
		return nil, err
	}
	if !g.enqueue(ctx, client, echo) {
		conv.Leave(client.SessionID)
		return nil, errors.New("backpressure: join echo")
	}

	return conv, nil
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, conv *Conversation, env v1.Envelope, now time.Time) error {
	p, err := wire.Decode[v1.MessageSendPayload](env)
	if err != nil {
		return err
	}

	if strings.TrimSpace(p.ConversationID) == "" || p.ConversationID != conv.ID {
		return errors.New("invalid conversation_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	res, err := g.store.AppendMessage(ctx, AppendMessageInput{
		ConversationID: p.ConversationID,
		ClientMsgID:    p.ClientMsgID,
		SenderSession:  client.SessionID,
		Sender:         client.Sender(),
		Text:           text,
		Now:            now,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}

	msg := wire.MessagePayload(res.Stored.Message())

	ack, err := g.reply(v1.TypeMessageAck, env.ID, v1.MessageAckPayload{Message: msg, Duplicated: res.Duplicated})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: ack")
	}

	if res.Duplicated {
		return nil
	}
	g.fanout(ctx, conv, v1.MessageChangedPayload{ChangeKind: v1.ChangeAdded, Message: msg})
	return nil
}

func (g *WSGateway) onMessageUpdate(ctx context.Context, client *Client, conv *Conversation, env v1.Envelope, now time.Time) error {
	p, err := wire.Decode[v1.MessageUpdatePayload](env)
	if err != nil {
		return err
	}
	if p.ConversationID != conv.ID {
		return errors.New("invalid conversation_id")
	}
	status, err := window.ParseStatus(p.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	res, err := g.store.UpdateStatus(ctx, UpdateStatusInput{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		Status:         status,
		Now:            now,
	})
	if err != nil {
		return fmt.Errorf("store update: %w", err)
	}

	msg := wire.MessagePayload(res.Stored.Message())

	ack, err := g.reply(v1.TypeMessageAck, env.ID, v1.MessageAckPayload{Message: msg, Duplicated: !res.Changed})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: ack")
	}

	if res.Changed {
		g.fanout(ctx, conv, v1.MessageChangedPayload{ChangeKind: v1.ChangeUpdated, Message: msg})
	}
	return nil
}

func (g *WSGateway) onHistoryFetch(ctx context.Context, client *Client, conv *Conversation, env v1.Envelope) error {
	p, err := wire.Decode[v1.HistoryFetchPayload](env)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		return errors.New("missing conversation_id")
	}
	if convID != conv.ID {
		return errors.New("not a member of conversation_id")
	}

	in := FetchPageInput{ConversationID: convID, Limit: clampLimit(p.Limit)}
	direction := "first"
	switch {
	case p.Last:
		in.Last = true
		direction = "last"
	case p.BeforeCursor != "":
		seq, err := DecodeCursor(p.BeforeCursor)
		if err != nil {
			return err
		}
		in.BeforeSeq = &seq
		direction = "before"
	case p.AfterCursor != "":
		seq, err := DecodeCursor(p.AfterCursor)
		if err != nil {
			return err
		}
		in.AfterSeq = &seq
		direction = "after"
	}

	out, err := g.store.FetchPage(ctx, in)
	if err != nil {
		return err
	}
	historyPageSize.WithLabelValues(direction).Observe(float64(len(out.Messages)))

	page, err := g.reply(v1.TypeHistoryPage, env.ID, wire.PagePayload(convID, toPage(out)))
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, page) {
		return errors.New("backpressure: history page")
	}
	return nil
}

func toPage(out FetchPageResult) window.Page {
	page := window.Page{Edges: make([]window.Edge, 0, len(out.Messages))}
	for _, m := range out.Messages {
		page.Edges = append(page.Edges, window.Edge{Message: m.Message(), Cursor: EncodeCursor(m.Seq)})
	}
	page.PageInfo.HasPreviousPage = out.HasPrevious
	page.PageInfo.HasNextPage = out.HasNext
	if n := len(page.Edges); n > 0 {
		page.PageInfo.StartCursor = page.Edges[0].Cursor
		page.PageInfo.EndCursor = page.Edges[n-1].Cursor
	}
	return page
}

// fanout broadcasts a change to the conversation and hands it to the notifier.
func (g *WSGateway) fanout(ctx context.Context, conv *Conversation, change v1.MessageChangedPayload) {
	env, err := g.reply(v1.TypeMessageChanged, "", change)
	if err != nil {
		g.log.Error("ws.broadcast.encode.fail", "err", err)
		return
	}
	if _, dropped := conv.Broadcast(env); dropped > 0 {
		wsBroadcastDroppedTotal.Add(float64(dropped))
	}

	if g.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsNotifyTimeout)
	defer cancel()
	if err := g.notifier.PublishChange(nctx, change); err != nil {
		notifyFailuresTotal.Inc()
		g.log.Warn("ws.notify.fail", "conversation_id", conv.ID, "message_id", change.Message.ID, "err", err)
	}
}

// ---- send helpers ----

func (g *WSGateway) reply(typ, replyTo string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	return wire.NewEnvelope(typ, NewEnvelopeID(now), replyTo, payload, now)
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, replyTo, code, msg string) {
	wsErrorsTotal.WithLabelValues(code).Inc()
	env, err := g.reply(v1.TypeError, replyTo, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

var errBadJSON = errors.New("invalid JSON")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins extracts the host patterns
// websocket.Accept matches against; only allowlisted hosts are accepted.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
