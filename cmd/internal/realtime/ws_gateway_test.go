package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"msgwindow/cmd/internal/wire"
	v1 "msgwindow/shared/contracts/realtime/v1"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []v1.MessageChangedPayload
}

func (n *recordingNotifier) PublishChange(_ context.Context, ch v1.MessageChangedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, ch)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

func newTestGateway(t *testing.T, opts ...GatewayOption) (*httptest.Server, *InMemoryStore) {
	t.Helper()

	store := NewInMemoryStore()
	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	opts = append([]GatewayOption{WithGatewayConfig(cfg)}, opts...)

	g := NewWSGateway(nil, nil, store, opts...)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv, store
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func dialTest(t *testing.T, srv *httptest.Server) *testConn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(typ string, payload any) string {
	c.t.Helper()

	c.seq++
	id := "req-" + string(rune('a'+c.seq))
	env, err := wire.NewEnvelope(typ, id, "", payload, time.Now())
	if err != nil {
		c.t.Fatalf("envelope: %v", err)
	}
	b, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	return id
}

// read returns the next envelope of type typ, skipping others.
func (c *testConn) read(typ string) v1.Envelope {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.t.Fatalf("read %s: %v", typ, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func mustDecode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	p, err := wire.Decode[T](env)
	if err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return p
}

func (c *testConn) join(conv, role string) {
	c.t.Helper()
	c.send(v1.TypeHello, v1.HelloPayload{Role: role})
	c.read(v1.TypeHelloAck)
	c.send(v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: conv})
	c.read(v1.TypeConversationJoin)
}

func TestWSGateway_SendBroadcastsAndPages(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	srv, _ := newTestGateway(t, WithChangeNotifier(notifier))

	alice := dialTest(t, srv)
	bob := dialTest(t, srv)
	alice.join("conv-1", "customer")
	bob.join("conv-1", "operator")

	for i := 0; i < 3; i++ {
		id := alice.send(v1.TypeMessageSend, v1.MessageSendPayload{
			ConversationID: "conv-1",
			ClientMsgID:    "c" + string(rune('0'+i)),
			Text:           "hello",
		})
		ack := alice.read(v1.TypeMessageAck)
		if ack.ReplyTo != id {
			t.Fatalf("ack reply_to=%q want %q", ack.ReplyTo, id)
		}
		p := mustDecode[v1.MessageAckPayload](t, ack)
		if p.Message.Sender != "customer" || p.Message.Status != "sent" || p.Duplicated {
			t.Fatalf("ack payload %+v", p)
		}

		changed := mustDecode[v1.MessageChangedPayload](t, bob.read(v1.TypeMessageChanged))
		if changed.ChangeKind != v1.ChangeAdded || changed.Message.ID != p.Message.ID {
			t.Fatalf("broadcast %+v", changed)
		}
	}

	id := bob.send(v1.TypeHistoryFetch, v1.HistoryFetchPayload{ConversationID: "conv-1", Limit: 2, Last: true})
	pageEnv := bob.read(v1.TypeHistoryPage)
	if pageEnv.ReplyTo != id {
		t.Fatalf("page reply_to=%q want %q", pageEnv.ReplyTo, id)
	}
	page, err := wire.Page(mustDecode[v1.HistoryPagePayload](t, pageEnv))
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.Edges) != 2 || !page.PageInfo.HasPreviousPage || page.PageInfo.HasNextPage {
		t.Fatalf("last page: %d edges info=%+v", len(page.Edges), page.PageInfo)
	}

	bob.send(v1.TypeHistoryFetch, v1.HistoryFetchPayload{ConversationID: "conv-1", Limit: 2, BeforeCursor: page.PageInfo.StartCursor})
	older, err := wire.Page(mustDecode[v1.HistoryPagePayload](t, bob.read(v1.TypeHistoryPage)))
	if err != nil {
		t.Fatalf("older: %v", err)
	}
	if len(older.Edges) != 1 || older.PageInfo.HasPreviousPage || !older.PageInfo.HasNextPage {
		t.Fatalf("older page: %d edges info=%+v", len(older.Edges), older.PageInfo)
	}

	if got := notifier.count(); got != 3 {
		t.Fatalf("notified=%d want 3", got)
	}
}

func TestWSGateway_UpdateStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTestGateway(t)
	c := dialTest(t, srv)
	c.join("conv-2", "")

	c.send(v1.TypeMessageSend, v1.MessageSendPayload{ConversationID: "conv-2", ClientMsgID: "x", Text: "hi"})
	sent := mustDecode[v1.MessageAckPayload](t, c.read(v1.TypeMessageAck)).Message

	c.send(v1.TypeMessageUpdate, v1.MessageUpdatePayload{ConversationID: "conv-2", MessageID: sent.ID, Status: "read"})
	upd := mustDecode[v1.MessageAckPayload](t, c.read(v1.TypeMessageAck))
	if upd.Message.Status != "read" || !upd.Message.UpdatedAt.After(sent.UpdatedAt) {
		t.Fatalf("update ack %+v (sent %+v)", upd.Message, sent)
	}

	changed := mustDecode[v1.MessageChangedPayload](t, c.read(v1.TypeMessageChanged))
	for changed.ChangeKind != v1.ChangeUpdated {
		changed = mustDecode[v1.MessageChangedPayload](t, c.read(v1.TypeMessageChanged))
	}
	if changed.Message.Status != "read" {
		t.Fatalf("updated broadcast %+v", changed)
	}

	id := c.send(v1.TypeMessageUpdate, v1.MessageUpdatePayload{ConversationID: "conv-2", MessageID: "missing", Status: "read"})
	errEnv := c.read(v1.TypeError)
	if p := mustDecode[v1.ErrorPayload](t, errEnv); p.Code != "not_found" || errEnv.ReplyTo != id {
		t.Fatalf("error %+v reply_to=%q", p, errEnv.ReplyTo)
	}
}

func TestWSGateway_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestGateway(t)
	c := dialTest(t, srv)

	c.send(v1.TypeHistoryFetch, v1.HistoryFetchPayload{ConversationID: "conv-3"})
	if p := mustDecode[v1.ErrorPayload](t, c.read(v1.TypeError)); p.Code != "not_joined" {
		t.Fatalf("code=%s", p.Code)
	}

	c.join("conv-3", "")

	c.send(v1.TypeHistoryFetch, v1.HistoryFetchPayload{ConversationID: "conv-3", BeforeCursor: "not-a-cursor"})
	if p := mustDecode[v1.ErrorPayload](t, c.read(v1.TypeError)); p.Code != "bad_cursor" {
		t.Fatalf("code=%s", p.Code)
	}

	c.send(v1.TypeHistoryFetch, v1.HistoryFetchPayload{ConversationID: "conv-3", Last: true, AfterCursor: EncodeCursor(1)})
	if p := mustDecode[v1.ErrorPayload](t, c.read(v1.TypeError)); p.Code != "bad_request" {
		t.Fatalf("code=%s", p.Code)
	}

	c.send(v1.TypeMessageUpdate, v1.MessageUpdatePayload{ConversationID: "conv-3", MessageID: "m", Status: "seen"})
	if p := mustDecode[v1.ErrorPayload](t, c.read(v1.TypeError)); p.Code != "bad_request" {
		t.Fatalf("code=%s", p.Code)
	}
}

func TestWSGateway_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	g := NewWSGateway(nil, nil, nil)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	for _, origin := range []string{"", "https://evil.example"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("origin %q: status=%d", origin, resp.StatusCode)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"http://localhost:3000", "https://App.example.com", "*", "localhost"})
	want := []string{"app.example.com", "localhost"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
}
