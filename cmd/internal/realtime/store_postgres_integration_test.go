package realtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"msgwindow/cmd/internal/window"
)

// Integration tests are enabled when MSGWIN_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_Append_Dedupe_NoSeqWaste(t *testing.T) {
	t.Parallel()

	store, pool, schema := mustSetupStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	convID := "it-dedupe-" + RandomToken(8)
	clientMsgID := "cmsg-" + RandomToken(8)
	now := time.Now().UTC()

	first, err := store.AppendMessage(ctx, AppendMessageInput{
		ConversationID: convID,
		ClientMsgID:    clientMsgID,
		SenderSession:  "session-a",
		Sender:         window.SenderCustomer,
		Text:           "hello",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("append first: expected Duplicated=false")
	}
	if first.Stored.Seq != 1 {
		t.Fatalf("append first: expected seq=1 got=%d", first.Stored.Seq)
	}
	if len(first.Stored.ID) != 26 {
		t.Fatalf("append first: expected ULID id, got %q", first.Stored.ID)
	}
	if first.Stored.Status != window.StatusSent {
		t.Fatalf("append first: status=%q", first.Stored.Status)
	}

	second, err := store.AppendMessage(ctx, AppendMessageInput{
		ConversationID: convID,
		ClientMsgID:    clientMsgID, // duplicate on purpose
		SenderSession:  "session-a",
		Sender:         window.SenderCustomer,
		Text:           "hello",
		Now:            now.Add(1 * time.Second),
	})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("append duplicate: expected Duplicated=true")
	}
	if second.Stored.Seq != first.Stored.Seq || second.Stored.ID != first.Stored.ID {
		t.Fatalf("append duplicate: mismatch first=%+v second=%+v", first.Stored, second.Stored)
	}

	if cnt := mustCountMessages(t, pool, schema, convID); cnt != 1 {
		t.Fatalf("expected 1 message row, got %d", cnt)
	}
}

func TestPostgresStore_FetchPage_Directions(t *testing.T) {
	t.Parallel()

	store, _, _ := mustSetupStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	convID := "it-page-" + RandomToken(8)
	for i := 0; i < 7; i++ {
		if _, err := store.AppendMessage(ctx, AppendMessageInput{
			ConversationID: convID,
			ClientMsgID:    fmt.Sprintf("cmsg-%d", i),
			SenderSession:  "session-a",
			Sender:         window.SenderOperator,
			Text:           fmt.Sprintf("m%d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	seqs := func(r FetchPageResult) []int64 {
		out := make([]int64, 0, len(r.Messages))
		for _, m := range r.Messages {
			out = append(out, m.Seq)
		}
		return out
	}

	last, err := store.FetchPage(ctx, FetchPageInput{ConversationID: convID, Limit: 3, Last: true})
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if got := seqs(last); fmt.Sprint(got) != "[5 6 7]" || !last.HasPrevious || last.HasNext {
		t.Fatalf("last: seqs=%v prev=%v next=%v", got, last.HasPrevious, last.HasNext)
	}

	before := int64(5)
	older, err := store.FetchPage(ctx, FetchPageInput{ConversationID: convID, Limit: 3, BeforeSeq: &before})
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if got := seqs(older); fmt.Sprint(got) != "[2 3 4]" || !older.HasPrevious || !older.HasNext {
		t.Fatalf("before: seqs=%v prev=%v next=%v", got, older.HasPrevious, older.HasNext)
	}

	after := int64(4)
	newer, err := store.FetchPage(ctx, FetchPageInput{ConversationID: convID, Limit: 10, AfterSeq: &after})
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if got := seqs(newer); fmt.Sprint(got) != "[5 6 7]" || !newer.HasPrevious || newer.HasNext {
		t.Fatalf("after: seqs=%v prev=%v next=%v", got, newer.HasPrevious, newer.HasNext)
	}

	first, err := store.FetchPage(ctx, FetchPageInput{ConversationID: convID, Limit: 2})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if got := seqs(first); fmt.Sprint(got) != "[1 2]" || first.HasPrevious || !first.HasNext {
		t.Fatalf("first: seqs=%v prev=%v next=%v", got, first.HasPrevious, first.HasNext)
	}
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	t.Parallel()

	store, _, _ := mustSetupStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	convID := "it-status-" + RandomToken(8)
	now := time.Now().UTC()
	res, err := store.AppendMessage(ctx, AppendMessageInput{
		ConversationID: convID,
		ClientMsgID:    "c1",
		SenderSession:  "session-a",
		Sender:         window.SenderCustomer,
		Text:           "hi",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Same clock reading: updated_at must still move forward.
	upd, err := store.UpdateStatus(ctx, UpdateStatusInput{
		ConversationID: convID,
		MessageID:      res.Stored.ID,
		Status:         window.StatusRead,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !upd.Changed || upd.Stored.Status != window.StatusRead {
		t.Fatalf("update: %+v", upd)
	}
	if !upd.Stored.UpdatedAt.After(res.Stored.UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v -> %v", res.Stored.UpdatedAt, upd.Stored.UpdatedAt)
	}

	back, err := store.UpdateStatus(ctx, UpdateStatusInput{
		ConversationID: convID,
		MessageID:      res.Stored.ID,
		Status:         window.StatusDelivered,
	})
	if err != nil {
		t.Fatalf("backwards update: %v", err)
	}
	if back.Changed || back.Stored.Status != window.StatusRead {
		t.Fatalf("status moved backwards: %+v", back)
	}

	_, err = store.UpdateStatus(ctx, UpdateStatusInput{
		ConversationID: convID,
		MessageID:      "missing",
		Status:         window.StatusRead,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: err=%v", err)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeq_NoGaps(t *testing.T) {
	t.Parallel()

	store, _, _ := mustSetupStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	convID := "it-concurrency-" + RandomToken(8)

	const n = 32

	var wg sync.WaitGroup
	wg.Add(n)

	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()

			_, err := store.AppendMessage(ctx, AppendMessageInput{
				ConversationID: convID,
				ClientMsgID:    fmt.Sprintf("cmsg-%d-%s", i, RandomToken(5)),
				SenderSession:  "session-a",
				Sender:         window.SenderCustomer,
				Text:           fmt.Sprintf("m%d", i),
			})
			if err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent append error: %v", err)
	}

	out, err := store.FetchPage(ctx, FetchPageInput{ConversationID: convID, Limit: 200})
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if len(out.Messages) != n || out.HasNext {
		t.Fatalf("expected %d messages and no next page, got %d next=%v", n, len(out.Messages), out.HasNext)
	}

	seqs := make([]int64, 0, n)
	for _, m := range out.Messages {
		seqs = append(seqs, m.Seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("seq gap at %d: %v", i, seqs)
		}
	}

	// ULIDs must sort in seq order.
	for i := 1; i < len(out.Messages); i++ {
		if out.Messages[i-1].ID >= out.Messages[i].ID {
			t.Fatalf("ids out of order at seq %d", out.Messages[i].Seq)
		}
	}
}

// ---- test helpers ----

func mustSetupStore(t *testing.T) (*PostgresStore, *pgxpool.Pool, string) {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "msgwindow_it_" + strings.ToLower(RandomToken(8))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st, pool, schema
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("MSGWIN_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: MSGWIN_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse MSGWIN_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustCountMessages(t *testing.T, pool *pgxpool.Pool, schema string, conversationID string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cnt int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgIdent(schema, "messages")+` WHERE conversation_id = $1`,
		conversationID,
	).Scan(&cnt); err != nil {
		t.Fatalf("count messages: %v", err)
	}

	return cnt
}
