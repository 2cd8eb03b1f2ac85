package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"msgwindow/cmd/internal/window"
)

func seedMemory(t *testing.T, st *InMemoryStore, conv string, n int) []StoredMessage {
	t.Helper()

	out := make([]StoredMessage, 0, n)
	for i := 0; i < n; i++ {
		res, err := st.AppendMessage(context.Background(), AppendMessageInput{
			ConversationID: conv,
			ClientMsgID:    fmt.Sprintf("c%d", i),
			SenderSession:  "s1",
			Sender:         window.SenderCustomer,
			Text:           fmt.Sprintf("m%d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, res.Stored)
	}
	return out
}

func pageSeqs(r FetchPageResult) string {
	out := make([]int64, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Seq)
	}
	return fmt.Sprint(out)
}

func TestInMemoryStore_AppendDedupe(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	in := AppendMessageInput{
		ConversationID: "conv",
		ClientMsgID:    "c1",
		SenderSession:  "s1",
		Sender:         window.SenderOperator,
		Text:           "hello",
	}

	first, err := st.AppendMessage(ctx, in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Duplicated || first.Stored.Seq != 1 || first.Stored.Status != window.StatusSent {
		t.Fatalf("first: %+v", first)
	}

	second, err := st.AppendMessage(ctx, in)
	if err != nil {
		t.Fatalf("append dup: %v", err)
	}
	if !second.Duplicated || second.Stored.ID != first.Stored.ID {
		t.Fatalf("dup: %+v", second)
	}

	third := seedMemory(t, st, "conv", 1)[0]
	if third.Seq != 2 {
		t.Fatalf("seq after duplicate=%d want 2", third.Seq)
	}
	if third.ID <= first.Stored.ID {
		t.Fatalf("ids not monotonic: %s <= %s", third.ID, first.Stored.ID)
	}

	bad := in
	bad.Sender = "robot"
	if _, err := st.AppendMessage(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid sender err=%v", err)
	}
}

func TestInMemoryStore_FetchPage(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	seedMemory(t, st, "conv", 7)
	ctx := context.Background()

	seq := func(v int64) *int64 { return &v }

	cases := []struct {
		name     string
		in       FetchPageInput
		want     string
		wantPrev bool
		wantNext bool
	}{
		{name: "first", in: FetchPageInput{Limit: 2}, want: "[1 2]", wantNext: true},
		{name: "last", in: FetchPageInput{Limit: 3, Last: true}, want: "[5 6 7]", wantPrev: true},
		{name: "last short", in: FetchPageInput{Limit: 30, Last: true}, want: "[1 2 3 4 5 6 7]"},
		{name: "before", in: FetchPageInput{Limit: 3, BeforeSeq: seq(5)}, want: "[2 3 4]", wantPrev: true, wantNext: true},
		{name: "before start", in: FetchPageInput{Limit: 3, BeforeSeq: seq(3)}, want: "[1 2]", wantNext: true},
		{name: "after", in: FetchPageInput{Limit: 10, AfterSeq: seq(4)}, want: "[5 6 7]", wantPrev: true},
		{name: "after end", in: FetchPageInput{Limit: 10, AfterSeq: seq(7)}, want: "[]", wantPrev: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.in.ConversationID = "conv"
			got, err := st.FetchPage(ctx, tc.in)
			if err != nil {
				t.Fatalf("FetchPage: %v", err)
			}
			if s := pageSeqs(got); s != tc.want {
				t.Fatalf("seqs=%s want=%s", s, tc.want)
			}
			if got.HasPrevious != tc.wantPrev || got.HasNext != tc.wantNext {
				t.Fatalf("prev=%v next=%v want %v/%v", got.HasPrevious, got.HasNext, tc.wantPrev, tc.wantNext)
			}
		})
	}

	if _, err := st.FetchPage(ctx, FetchPageInput{ConversationID: "conv", Last: true, AfterSeq: seq(1)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ambiguous request err=%v", err)
	}
	empty, err := st.FetchPage(ctx, FetchPageInput{ConversationID: "nobody", Last: true})
	if err != nil || len(empty.Messages) != 0 {
		t.Fatalf("unknown conversation: %+v %v", empty, err)
	}
}

func TestInMemoryStore_UpdateStatus(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	m := seedMemory(t, st, "conv", 1)[0]
	ctx := context.Background()

	upd, err := st.UpdateStatus(ctx, UpdateStatusInput{
		ConversationID: "conv",
		MessageID:      m.ID,
		Status:         window.StatusDelivered,
		Now:            m.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !upd.Changed || !upd.Stored.UpdatedAt.After(m.UpdatedAt) {
		t.Fatalf("update: %+v", upd)
	}

	same, err := st.UpdateStatus(ctx, UpdateStatusInput{ConversationID: "conv", MessageID: m.ID, Status: window.StatusSent})
	if err != nil || same.Changed {
		t.Fatalf("backwards update: %+v %v", same, err)
	}

	page, _ := st.FetchPage(ctx, FetchPageInput{ConversationID: "conv"})
	if page.Messages[0].Status != window.StatusDelivered {
		t.Fatalf("stored status=%s", page.Messages[0].Status)
	}

	if _, err := st.UpdateStatus(ctx, UpdateStatusInput{ConversationID: "conv", MessageID: "nope", Status: window.StatusRead}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id err=%v", err)
	}
	if _, err := st.UpdateStatus(ctx, UpdateStatusInput{ConversationID: "conv", MessageID: m.ID, Status: "lost"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid status err=%v", err)
	}
}

func TestInMemoryStore_BoundsMemory(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	st.max = 5
	all := seedMemory(t, st, "conv", 8)

	page, err := st.FetchPage(context.Background(), FetchPageInput{ConversationID: "conv", Limit: 50})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if got := pageSeqs(page); got != "[4 5 6 7 8]" {
		t.Fatalf("seqs=%s", got)
	}
	if _, err := st.UpdateStatus(context.Background(), UpdateStatusInput{
		ConversationID: "conv", MessageID: all[0].ID, Status: window.StatusRead,
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("trimmed message still addressable: %v", err)
	}
}

func TestNextUpdatedAt(t *testing.T) {
	t.Parallel()

	prev := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := nextUpdatedAt(prev, prev); !got.Equal(prev.Add(time.Microsecond)) {
		t.Fatalf("equal clock: %v", got)
	}
	if got := nextUpdatedAt(prev, prev.Add(-time.Hour)); !got.After(prev) {
		t.Fatalf("clock skew: %v", got)
	}
	later := prev.Add(time.Second)
	if got := nextUpdatedAt(prev, later); !got.Equal(later) {
		t.Fatalf("later clock: %v", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	for _, seq := range []int64{0, 1, 42, 1 << 40} {
		got, err := DecodeCursor(EncodeCursor(seq))
		if err != nil || got != seq {
			t.Fatalf("seq=%d got=%d err=%v", seq, got, err)
		}
	}
	for _, bad := range []string{"", "!!", "MTIz", EncodeCursor(5) + "!"} {
		if _, err := DecodeCursor(bad); !errors.Is(err, ErrBadCursor) {
			t.Fatalf("DecodeCursor(%q) err=%v", bad, err)
		}
	}
}
