// Package pager adapts a cursor-paginated backend to the three reads the
// message window needs: newest, before a cursor and after a cursor.
//
// Cursors are opaque. The pager never parses or computes them; it only
// passes back what the backend returned.
package pager

import (
	"context"
	"errors"
	"fmt"

	"msgwindow/cmd/internal/window"
)

// Request is one forward or backward page read. At most one of After and
// Before is set; neither means "from the start".
type Request struct {
	Limit  int
	After  string
	Before string
}

// Transport performs a single paged read against the backend.
type Transport interface {
	FetchPage(ctx context.Context, req Request) (window.Page, error)
}

// TailTransport is implemented by backends that can return the last N items
// directly. When available the pager uses it instead of walking.
type TailTransport interface {
	FetchLast(ctx context.Context, limit int) (window.Page, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (window.Page, error)

func (f TransportFunc) FetchPage(ctx context.Context, req Request) (window.Page, error) {
	return f(ctx, req)
}

const (
	DefaultLimit        = window.DefaultPageSize
	DefaultMaxPageSize  = 100
	DefaultMaxWalkPages = 1_000
)

// Config bounds the reads a Pager issues.
type Config struct {
	// DefaultLimit is used when a caller passes limit <= 0.
	DefaultLimit int
	// MaxPageSize caps every request.
	MaxPageSize int
	// MaxWalkPages is the forward-walk ceiling for FetchNewest on a
	// backend without TailTransport.
	MaxWalkPages int
	// WalkPageSize is the page size used while walking; 0 means MaxPageSize.
	WalkPageSize int
	// DisableTail forces the walk even when the transport supports tails.
	DisableTail bool
	// Ordered reports whether older sorts strictly before newer. Pages that
	// break the order are rejected. Nil means ByID.
	Ordered func(older, newer window.Message) bool
}

// ByID orders messages by id, which holds for time-ordered ids such as ULIDs.
func ByID(older, newer window.Message) bool { return older.ID < newer.ID }

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.DefaultLimit > c.MaxPageSize {
		c.DefaultLimit = c.MaxPageSize
	}
	if c.MaxWalkPages <= 0 {
		c.MaxWalkPages = DefaultMaxWalkPages
	}
	if c.WalkPageSize <= 0 || c.WalkPageSize > c.MaxPageSize {
		c.WalkPageSize = c.MaxPageSize
	}
	if c.Ordered == nil {
		c.Ordered = ByID
	}
	return c
}

// Pager implements window.Pager on top of a Transport.
type Pager struct {
	tr   Transport
	tail TailTransport
	cfg  Config
}

var _ window.Pager = (*Pager)(nil)

// New returns a pager over tr.
func New(tr Transport, cfg Config) *Pager {
	cfg = cfg.withDefaults()
	p := &Pager{tr: tr, cfg: cfg}
	if t, ok := tr.(TailTransport); ok && !cfg.DisableTail {
		p.tail = t
	}
	return p
}

func (p *Pager) limit(n int) int {
	if n <= 0 {
		n = p.cfg.DefaultLimit
	}
	if n > p.cfg.MaxPageSize {
		n = p.cfg.MaxPageSize
	}
	return n
}

// FetchNewest returns the last limit items in chronological order with
// HasPreviousPage set when older items exist.
func (p *Pager) FetchNewest(ctx context.Context, limit int) (window.Page, error) {
	const op = "pager.FetchNewest"
	limit = p.limit(limit)

	if p.tail != nil {
		page, err := p.tail.FetchLast(ctx, limit)
		if err != nil {
			return window.Page{}, fetchErr(op, err)
		}
		if err := p.validate(page); err != nil {
			return window.Page{}, fetchErr(op, err)
		}
		return page, nil
	}
	return p.walk(ctx, op, limit)
}

// walk pages forward from the start keeping only the trailing limit edges.
func (p *Pager) walk(ctx context.Context, op string, limit int) (window.Page, error) {
	var (
		tail    []window.Edge
		dropped bool
		after   string
		last    window.PageInfo
	)

	for pages := 0; ; pages++ {
		if pages >= p.cfg.MaxWalkPages {
			return window.Page{}, &window.OpError{
				Op:   op,
				Kind: window.ErrTruncatedHistory,
				Msg:  fmt.Sprintf("more than %d pages", p.cfg.MaxWalkPages),
			}
		}
		if err := ctx.Err(); err != nil {
			return window.Page{}, fetchErr(op, err)
		}

		page, err := p.tr.FetchPage(ctx, Request{Limit: p.cfg.WalkPageSize, After: after})
		if err != nil {
			return window.Page{}, fetchErr(op, err)
		}
		if err := p.validate(page); err != nil {
			return window.Page{}, fetchErr(op, err)
		}

		if n := len(tail); n > 0 && len(page.Edges) > 0 && !p.cfg.Ordered(tail[n-1].Message, page.Edges[0].Message) {
			return window.Page{}, fetchErr(op, fmt.Errorf("page starting at %q overlaps the previous page", page.Edges[0].Message.ID))
		}
		tail = append(tail, page.Edges...)
		if over := len(tail) - limit; over > 0 {
			tail = append(tail[:0:0], tail[over:]...)
			dropped = true
		}
		last = page.PageInfo

		if !page.PageInfo.HasNextPage || len(page.Edges) == 0 {
			break
		}
		next := endOf(page)
		if next == "" || next == after {
			return window.Page{}, fetchErr(op, errors.New("cursor did not advance"))
		}
		after = next
	}

	out := window.Page{Edges: tail}
	out.PageInfo.HasPreviousPage = dropped
	out.PageInfo.HasNextPage = false
	if n := len(tail); n > 0 {
		out.PageInfo.StartCursor = tail[0].Cursor
		out.PageInfo.EndCursor = tail[n-1].Cursor
	} else {
		out.PageInfo.EndCursor = last.EndCursor
	}
	return out, nil
}

// FetchBefore returns up to limit items immediately older than cursor.
func (p *Pager) FetchBefore(ctx context.Context, cursor string, limit int) (window.Page, error) {
	const op = "pager.FetchBefore"
	if cursor == "" {
		return window.Page{}, &window.OpError{Op: op, Kind: window.ErrFetchFailed, Msg: "empty cursor"}
	}

	page, err := p.tr.FetchPage(ctx, Request{Limit: p.limit(limit), Before: cursor})
	if err != nil {
		return window.Page{}, fetchErr(op, err)
	}
	if err := p.validate(page); err != nil {
		return window.Page{}, fetchErr(op, err)
	}
	return page, nil
}

// FetchAfter returns up to limit items immediately newer than cursor. An
// empty cursor reads from the start.
func (p *Pager) FetchAfter(ctx context.Context, cursor string, limit int) (window.Page, error) {
	const op = "pager.FetchAfter"

	page, err := p.tr.FetchPage(ctx, Request{Limit: p.limit(limit), After: cursor})
	if err != nil {
		return window.Page{}, fetchErr(op, err)
	}
	if err := p.validate(page); err != nil {
		return window.Page{}, fetchErr(op, err)
	}
	return page, nil
}

func fetchErr(op string, err error) error {
	var oe *window.OpError
	if errors.As(err, &oe) {
		return err
	}
	return &window.OpError{Op: op, Kind: window.ErrFetchFailed, Err: err}
}

// validate enforces what the window relies on: cursors present, ids unique,
// edges oldest to newest.
func (p *Pager) validate(page window.Page) error {
	seen := make(map[string]struct{}, len(page.Edges))
	for i, e := range page.Edges {
		if e.Cursor == "" {
			return fmt.Errorf("edge %d: empty cursor", i)
		}
		if e.Message.ID == "" {
			return fmt.Errorf("edge %d: empty message id", i)
		}
		if _, dup := seen[e.Message.ID]; dup {
			return fmt.Errorf("edge %d: duplicate message id %q", i, e.Message.ID)
		}
		seen[e.Message.ID] = struct{}{}
		if i > 0 && !p.cfg.Ordered(page.Edges[i-1].Message, e.Message) {
			return fmt.Errorf("edge %d: %q out of order after %q", i, e.Message.ID, page.Edges[i-1].Message.ID)
		}
	}
	return nil
}

func endOf(page window.Page) string {
	if page.PageInfo.EndCursor != "" {
		return page.PageInfo.EndCursor
	}
	if n := len(page.Edges); n > 0 {
		return page.Edges[n-1].Cursor
	}
	return ""
}
