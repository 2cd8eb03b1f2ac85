package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"msgwindow/cmd/internal/window"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, sec int, status window.Status) window.Message {
	return window.Message{ID: id, Text: "text " + id, Status: status, Sender: window.SenderCustomer, UpdatedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func TestRenderer_PrintsOnlyDifferences(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRenderer(&buf)

	a, b := msg("a", 1, window.StatusSent), msg("b", 2, window.StatusSent)
	r.Render(window.Snapshot{State: window.StateReady, FirstIndex: 100, HasMoreOlder: true, Messages: []window.Message{a, b}})
	out := buf.String()
	for _, want := range []string{"-- ready, 2 message(s), more history: /older", "[100] 09:00:01 customer", "[101] 09:00:02"} {
		if !strings.Contains(out, want) {
			t.Fatalf("first render %q missing %q", out, want)
		}
	}

	buf.Reset()
	r.Render(window.Snapshot{State: window.StateLoadingOlder, FirstIndex: 100, HasMoreOlder: true, Messages: []window.Message{a, b}})
	if got := buf.String(); got != "-- loading_older\n" {
		t.Fatalf("state-only render=%q", got)
	}

	buf.Reset()
	x, y := msg("x", -2, window.StatusRead), msg("y", -1, window.StatusRead)
	bRead := msg("b", 5, window.StatusRead)
	r.Render(window.Snapshot{State: window.StateReady, FirstIndex: 98, Messages: []window.Message{x, y, a, bRead}})
	out = buf.String()
	for _, want := range []string{"-- 2 older message(s)", "[98] ", "[99] ", "[101] ~ b is now read", "start of conversation"} {
		if !strings.Contains(out, want) {
			t.Fatalf("backfill render %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "[100]") {
		t.Fatalf("unchanged message reprinted: %q", out)
	}

	buf.Reset()
	r.Render(window.Snapshot{State: window.StateReady, FirstIndex: 1_000_000, Epoch: 1, Messages: []window.Message{x, y, a, bRead}})
	out = buf.String()
	if !strings.Contains(out, "indices renumbered (epoch 1)") || !strings.Contains(out, "[1000003]") {
		t.Fatalf("renumber render %q", out)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{in: "hello there", want: Command{Name: "send", Arg: "hello there"}},
		{in: " /older ", want: Command{Name: "older"}},
		{in: "/read 01JABC", want: Command{Name: "read", Arg: "01JABC"}},
		{in: "/delivered", wantErr: true},
		{in: "/nope", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("Parse(%q)=%+v,%v want %+v wantErr=%v", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

type fakeController struct {
	mu        sync.Mutex
	snaps     chan window.Snapshot
	older     int
	resyncs   int
	retries   int
	submitted []string
}

func (f *fakeController) Subscribe() (<-chan window.Snapshot, func()) { return f.snaps, func() {} }

func (f *fakeController) ReachedOldest() { f.mu.Lock(); f.older++; f.mu.Unlock() }
func (f *fakeController) Resync()        { f.mu.Lock(); f.resyncs++; f.mu.Unlock() }
func (f *fakeController) Retry()         { f.mu.Lock(); f.retries++; f.mu.Unlock() }

func (f *fakeController) Submit(_ context.Context, text string) (window.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == "fail me" {
		return window.Message{}, &window.SendError{Text: text, Err: errors.New("offline")}
	}
	f.submitted = append(f.submitted, text)
	return window.Message{ID: "new", Text: text}, nil
}

type fakeStatus struct {
	got []string
}

func (f *fakeStatus) UpdateStatus(_ context.Context, id string, st window.Status) (window.Message, error) {
	f.got = append(f.got, id+"="+string(st))
	return window.Message{ID: id, Status: st}, nil
}

func TestRun_ExecutesCommands(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{snaps: make(chan window.Snapshot)}
	status := &fakeStatus{}
	in := strings.NewReader("/older\n\nhello\n/resync\n/retry\n/read m1\nfail me\n/bogus\n/quit\nignored\n")
	var out bytes.Buffer

	if err := Run(context.Background(), ctrl, status, in, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ctrl.older != 1 || ctrl.resyncs != 1 || ctrl.retries != 1 {
		t.Fatalf("older=%d resyncs=%d retries=%d", ctrl.older, ctrl.resyncs, ctrl.retries)
	}
	if len(ctrl.submitted) != 1 || ctrl.submitted[0] != "hello" {
		t.Fatalf("submitted=%v", ctrl.submitted)
	}
	if len(status.got) != 1 || status.got[0] != "m1=read" {
		t.Fatalf("status=%v", status.got)
	}
	text := out.String()
	for _, want := range []string{"send failed (offline), draft kept: fail me", "unknown command /bogus"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output %q missing %q", text, want)
		}
	}
}

func TestRun_StopsOnUnmount(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{snaps: make(chan window.Snapshot, 1)}
	ctrl.snaps <- window.Snapshot{State: window.StateUnmounted}

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), ctrl, nil, blockingReader{}, &out) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after unmount")
	}
	if !strings.Contains(out.String(), "-- unmounted") {
		t.Fatalf("output %q", out.String())
	}
}

// blockingReader never yields input, like an idle terminal.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }
