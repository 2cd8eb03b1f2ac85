package window

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(i int) Message {
	return Message{
		ID:        fmt.Sprintf("m%03d", i),
		Text:      fmt.Sprintf("text %d", i),
		Status:    StatusSent,
		Sender:    SenderCustomer,
		UpdatedAt: t0.Add(time.Duration(i) * time.Second),
	}
}

func msgs(from, to int) []Message {
	out := make([]Message, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, msg(i))
	}
	return out
}

func ids(ms []Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func assertIDs(t *testing.T, got []Message, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("ids=%v want=%v", g, want)
	}
	for i := range g {
		if g[i] != want[i] {
			t.Fatalf("ids=%v want=%v", g, want)
		}
	}
}

func TestMerge_PagePrependsInBatchOrder(t *testing.T) {
	t.Parallel()

	res := Merge(msgs(5, 8), msgs(2, 5), SourcePage)

	assertIDs(t, res.Messages, "m002", "m003", "m004", "m005", "m006", "m007")
	if res.InsertedBefore != 3 || res.InsertedAfter != 0 {
		t.Fatalf("inserted before=%d after=%d", res.InsertedBefore, res.InsertedAfter)
	}
}

func TestMerge_PushAndLocalAppend(t *testing.T) {
	t.Parallel()

	for _, src := range []Source{SourcePush, SourceLocal, SourceForward} {
		res := Merge(msgs(0, 2), []Message{msg(9)}, src)
		assertIDs(t, res.Messages, "m000", "m001", "m009")
		if res.InsertedAfter != 1 || res.InsertedBefore != 0 {
			t.Fatalf("%s: inserted before=%d after=%d", src, res.InsertedBefore, res.InsertedAfter)
		}
	}
}

func TestMerge_LastWriteWins(t *testing.T) {
	t.Parallel()

	cur := msgs(0, 3)

	newer := cur[1]
	newer.Status = StatusRead
	newer.UpdatedAt = newer.UpdatedAt.Add(time.Minute)

	equal := cur[2]
	equal.Text = "resent"

	older := cur[0]
	older.Text = "old"
	older.UpdatedAt = older.UpdatedAt.Add(-time.Minute)

	res := Merge(cur, []Message{newer, equal, older}, SourcePush)

	if res.Replaced != 1 {
		t.Fatalf("replaced=%d want 1", res.Replaced)
	}
	if len(res.Stale) != 2 {
		t.Fatalf("stale=%v want 2 ids", res.Stale)
	}
	if res.Messages[1].Status != StatusRead {
		t.Fatalf("newer version not applied: %+v", res.Messages[1])
	}
	if res.Messages[2].Text != "text 2" || res.Messages[0].Text != "text 0" {
		t.Fatalf("equal/older versions must be ignored: %+v", res.Messages)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("len=%d want 3", len(res.Messages))
	}
}

func TestMerge_BatchDuplicateLaterWins(t *testing.T) {
	t.Parallel()

	first := msg(7)
	second := msg(7)
	second.Text = "second"
	second.UpdatedAt = first.UpdatedAt.Add(-time.Second)

	res := Merge(msgs(0, 1), []Message{first, msg(8), second}, SourcePush)

	assertIDs(t, res.Messages, "m000", "m007", "m008")
	if res.Messages[1].Text != "second" {
		t.Fatalf("later occurrence should win, got %q", res.Messages[1].Text)
	}
	if res.InsertedAfter != 2 {
		t.Fatalf("inserted after=%d want 2", res.InsertedAfter)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	page := msgs(0, 5)
	once := Merge(msgs(5, 10), page, SourcePage)
	twice := Merge(once.Messages, page, SourcePage)

	assertIDs(t, twice.Messages, ids(once.Messages)...)
	if twice.Changed() {
		t.Fatalf("second merge changed the window: %+v", twice)
	}
	if len(twice.Stale) != len(page) {
		t.Fatalf("stale=%d want %d", len(twice.Stale), len(page))
	}
}

func TestMerge_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	cur := msgs(0, 3)
	upd := cur[0]
	upd.Text = "changed"
	upd.UpdatedAt = upd.UpdatedAt.Add(time.Hour)

	res := Merge(cur, []Message{upd}, SourcePush)
	if cur[0].Text != "text 0" {
		t.Fatalf("input slice mutated: %+v", cur[0])
	}
	if res.Messages[0].Text != "changed" {
		t.Fatalf("update not applied")
	}

	empty := Merge(cur, nil, SourcePush)
	empty.Messages[0].Text = "x"
	if cur[0].Text != "text 0" {
		t.Fatalf("empty merge aliased input")
	}
}

func TestMergeEdges_StripsCursors(t *testing.T) {
	t.Parallel()

	edges := []Edge{{Message: msg(1), Cursor: "a"}, {Message: msg(2), Cursor: "b"}}
	res := MergeEdges(nil, edges, SourcePage)
	assertIDs(t, res.Messages, "m001", "m002")
}

func TestParseStatusAndSender(t *testing.T) {
	t.Parallel()

	if st, err := ParseStatus(" READ "); err != nil || st != StatusRead {
		t.Fatalf("ParseStatus: %v %v", st, err)
	}
	if _, err := ParseStatus("lost"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if sd, err := ParseSender("operator"); err != nil || sd != SenderOperator {
		t.Fatalf("ParseSender: %v %v", sd, err)
	}
	if _, err := ParseSender("admin"); err == nil {
		t.Fatalf("expected error for unknown sender")
	}
}
