package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"msgwindow/cmd/internal/window"
)

// Renderer turns successive snapshots into append-only terminal output.
//
// Every message is printed once with its virtual index; later snapshots
// print only what is new (older pages, live arrivals) or what changed
// (status updates). An epoch change reprints the whole window because the
// indices are no longer comparable.
type Renderer struct {
	w       io.Writer
	started bool
	state   window.State
	epoch   uint64
	seen    map[string]time.Time
}

// NewRenderer writes to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w, seen: make(map[string]time.Time)}
}

// Render prints the difference between the previous snapshot and s.
func (r *Renderer) Render(s window.Snapshot) {
	if !r.started || s.State != r.state {
		r.printState(s)
	}
	if r.started && s.Epoch != r.epoch {
		fmt.Fprintf(r.w, "-- indices renumbered (epoch %d)\n", s.Epoch)
		clear(r.seen)
	}
	r.started, r.state, r.epoch = true, s.State, s.Epoch

	var older, rest []string
	reachedKnown := false
	for i, m := range s.Messages {
		idx := s.FirstIndex + i
		prev, ok := r.seen[m.ID]
		switch {
		case !ok:
			line := formatMessage(idx, m)
			if len(r.seen) > 0 && !reachedKnown {
				older = append(older, line)
			} else {
				rest = append(rest, line)
			}
			r.seen[m.ID] = m.UpdatedAt
		case m.UpdatedAt.After(prev):
			rest = append(rest, fmt.Sprintf("[%d] ~ %s is now %s", idx, m.ID, m.Status))
			r.seen[m.ID] = m.UpdatedAt
		}
		if ok {
			reachedKnown = true
		}
	}

	if len(older) > 0 {
		fmt.Fprintf(r.w, "-- %d older message(s)\n", len(older))
		for _, l := range older {
			fmt.Fprintln(r.w, l)
		}
		fmt.Fprintln(r.w, "--")
	}
	for _, l := range rest {
		fmt.Fprintln(r.w, l)
	}
}

func (r *Renderer) printState(s window.Snapshot) {
	switch s.State {
	case window.StateError:
		fmt.Fprintf(r.w, "-- error: %v (type /retry)\n", s.Err)
	case window.StateReady:
		more := "start of conversation"
		if s.HasMoreOlder {
			more = "more history: /older"
		}
		fmt.Fprintf(r.w, "-- ready, %d message(s), %s\n", len(s.Messages), more)
	default:
		fmt.Fprintf(r.w, "-- %s\n", s.State)
	}
}

func formatMessage(idx int, m window.Message) string {
	return fmt.Sprintf("[%d] %s %-8s %-9s %s", idx, m.UpdatedAt.UTC().Format("15:04:05"), m.Sender, m.Status, singleLine(m.Text))
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
