package window

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the controller lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateLoadingOlder
	StateError
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingOlder:
		return "loading_older"
	case StateError:
		return "error"
	case StateUnmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Pager performs the paged reads. Cursors are passed through untouched.
type Pager interface {
	FetchNewest(ctx context.Context, limit int) (Page, error)
	FetchBefore(ctx context.Context, cursor string, limit int) (Page, error)
	FetchAfter(ctx context.Context, cursor string, limit int) (Page, error)
}

// MessageSender performs the write operation and returns the created message.
type MessageSender interface {
	Send(ctx context.Context, text string) (Message, error)
}

// PushSource delivers changes until ctx is canceled or the channel closes.
type PushSource interface {
	Subscribe(ctx context.Context) (<-chan Change, error)
}

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 10

// Config tunes a Controller.
type Config struct {
	PageSize   int
	BaseOrigin int
	// LowWater is the origin below which indices are renumbered. Zero
	// renumbers only when the origin would go negative; a negative value
	// selects DefaultLowWater.
	LowWater int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BaseOrigin <= 0 {
		c.BaseOrigin = DefaultBaseOrigin
	}
	if c.LowWater < 0 {
		c.LowWater = DefaultLowWater
	}
	return c
}

// Snapshot is the read-only projection handed to the rendering surface.
//
// Messages is shared between snapshots and must not be modified.
type Snapshot struct {
	State        State
	Messages     []Message
	FirstIndex   int
	PageInfo     PageInfo
	HasMoreOlder bool
	// Epoch changes whenever virtual indices were renumbered; indices are
	// only comparable between snapshots of the same epoch.
	Epoch   uint64
	Err     error
	Version uint64
}

// IndexOf returns the virtual index of the message with the given id.
func (s Snapshot) IndexOf(id string) (int, bool) {
	for i, m := range s.Messages {
		if m.ID == id {
			return s.FirstIndex + i, true
		}
	}
	return 0, false
}

// Option configures a Controller.
type Option func(*Controller)

// WithSender enables Submit.
func WithSender(s MessageSender) Option {
	return func(c *Controller) { c.sender = s }
}

// WithPushSource subscribes the window to live changes on Mount.
func WithPushSource(p PushSource) Option {
	return func(c *Controller) { c.push = p }
}

// WithObserver installs the lifecycle hook. Several observers can be
// combined with Observers.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.obs = o
		}
	}
}

const eventQueueSize = 64

// Controller owns one window. All state changes run on a single event loop
// goroutine; fetch completions, push deliveries and send completions are
// posted to it and applied one at a time.
type Controller struct {
	pager  Pager
	sender MessageSender
	push   PushSource
	obs    Observer
	cfg    Config

	events   chan func()
	done     chan struct{}
	started  atomic.Bool
	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	ctx      context.Context
	stopOnce sync.Once

	// Loop-owned.
	state         State
	loaded        bool
	loadGen       uint64
	messages      []Message
	pageInfo      PageInfo
	stab          *Stabilizer
	olderInFlight bool
	syncInFlight  bool
	pending       []liveEvent
	err           error
	version       uint64

	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool
}

// New constructs an unmounted Controller.
func New(pager Pager, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		pager:  pager,
		obs:    NopObserver{},
		cfg:    cfg,
		events: make(chan func(), eventQueueSize),
		done:   make(chan struct{}),
		stab:   NewStabilizer(cfg.BaseOrigin, cfg.LowWater),
		subs:   make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.snap = Snapshot{State: StateUninitialized, FirstIndex: c.stab.Origin()}
	return c
}

// Mount starts the event loop, subscribes to the push source and issues the
// initial newest-page fetch. ctx bounds every collaborator call; canceling
// it unmounts the window.
func (c *Controller) Mount(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.started.Load() {
		return &OpError{Op: "window.Mount", Kind: ErrMounted}
	}
	if c.isClosed() {
		return &OpError{Op: "window.Mount", Kind: ErrUnmounted}
	}
	if c.pager == nil {
		return &OpError{Op: "window.Mount", Kind: ErrFetchFailed, Msg: "nil pager"}
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	var changes <-chan Change
	if c.push != nil {
		ch, err := c.push.Subscribe(c.ctx)
		if err != nil {
			c.cancel()
			return &OpError{Op: "window.Mount", Kind: ErrFetchFailed, Msg: "subscribe", Err: err}
		}
		changes = ch
	}

	c.started.Store(true)
	go c.run()
	if changes != nil {
		go c.pump(changes)
	}

	c.post(c.startLoad)
	return nil
}

// Unmount stops the loop. Results of requests still in flight are discarded.
// It is safe to call more than once and without Mount.
func (c *Controller) Unmount() {
	c.lifeMu.Lock()
	started := c.started.Load()
	cancel := c.cancel
	c.lifeMu.Unlock()

	if !started {
		c.stopOnce.Do(c.finalize)
		return
	}
	cancel()
	<-c.done
}

// Done is closed once the controller is unmounted.
func (c *Controller) Done() <-chan struct{} { return c.done }

// ReachedOldest is the renderer's signal that the oldest loaded row is
// visible. It fetches the previous page unless one is already in flight or
// no older history exists.
func (c *Controller) ReachedOldest() {
	c.post(c.loadOlder)
}

// Retry leaves the error state: a failed initial load is reissued, a failed
// backward page is requested again.
func (c *Controller) Retry() {
	c.post(func() {
		if c.state != StateError {
			return
		}
		c.err = nil
		if !c.loaded {
			c.startLoad()
			return
		}
		c.setState(StateReady)
		c.publish()
		c.loadOlder()
	})
}

// Resync fetches forward from the newest known cursor and appends anything
// missed, for example after the push channel reconnected.
func (c *Controller) Resync() {
	c.post(func() {
		if !c.loaded || c.syncInFlight {
			return
		}
		c.syncInFlight = true
		c.loadForward(c.pageInfo.EndCursor)
	})
}

// ApplyChange merges one push-channel event.
func (c *Controller) ApplyChange(ch Change) {
	c.post(func() { c.onChange(ch) })
}

// Submit sends text through the MessageSender and merges the created message.
// On failure the window is untouched and the returned error carries the
// draft (see DraftFromError).
func (c *Controller) Submit(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, &OpError{Op: "window.Submit", Kind: ErrEmptyText}
	}
	if c.sender == nil {
		return Message{}, &SendError{Text: text, Err: errors.New("no sender configured")}
	}
	if !c.started.Load() || c.isClosed() {
		return Message{}, &OpError{Op: "window.Submit", Kind: ErrUnmounted}
	}

	start := time.Now()
	msg, err := c.sender.Send(ctx, text)
	took := time.Since(start)
	if err != nil {
		c.post(func() { c.obs.SendFinished(took, err) })
		return Message{}, &SendError{Text: text, Err: err}
	}

	applied := make(chan struct{})
	ok := c.post(func() {
		c.obs.SendFinished(took, nil)
		c.onLive(SourceLocal, Change{Kind: ChangeAdded, Message: msg})
		close(applied)
	})
	if !ok {
		return msg, &OpError{Op: "window.Submit", Kind: ErrUnmounted}
	}

	select {
	case <-applied:
		return msg, nil
	case <-c.done:
		return msg, &OpError{Op: "window.Submit", Kind: ErrUnmounted}
	}
}

// Snapshot returns the latest published projection.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Intermediate snapshots may be skipped by slow readers. The channel is
// closed on Unmount or when cancel is called.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	ch <- c.snap
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// ---- event loop ----

func (c *Controller) run() {
	defer c.stopOnce.Do(c.finalize)

	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Controller) pump(changes <-chan Change) {
	for {
		select {
		case <-c.done:
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if !c.post(func() { c.onChange(ch) }) {
				return
			}
		}
	}
}

// post enqueues fn on the loop. It reports false when the loop is gone.
func (c *Controller) post(fn func()) bool {
	if !c.started.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) finalize() {
	c.setState(StateUnmounted)
	c.publish()

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	close(c.done)
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// fetch runs one paged read off the loop and posts the result back.
func (c *Controller) fetch(kind FetchKind, read func(context.Context) (Page, error), apply func(Page, error)) {
	c.obs.FetchStarted(kind)
	start := time.Now()
	ctx := c.ctx

	go func() {
		page, err := read(ctx)
		c.post(func() {
			c.obs.FetchFinished(kind, len(page.Edges), time.Since(start), err)
			apply(page, err)
		})
	}()
}

// ---- transitions ----

func (c *Controller) startLoad() {
	if c.state != StateUninitialized && c.state != StateError {
		return
	}
	c.loadGen++
	gen := c.loadGen

	c.setState(StateLoading)
	c.publish()

	limit := c.cfg.PageSize
	c.fetch(FetchNewest, func(ctx context.Context) (Page, error) {
		return c.pager.FetchNewest(ctx, limit)
	}, func(page Page, err error) {
		c.onNewest(gen, page, err)
	})
}

func (c *Controller) onNewest(gen uint64, page Page, err error) {
	if gen != c.loadGen || c.state != StateLoading {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}

	res := MergeEdges(nil, page.Edges, SourcePage)
	c.messages = res.Messages
	c.stab.Reset()
	c.pageInfo = page.PageInfo
	c.loaded = true
	c.err = nil
	c.obs.MergeApplied(SourcePage, res, c.stab.Origin())
	c.setState(StateReady)

	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		c.mergeLive(ev.src, ev.change)
	}

	c.publish()
}

func (c *Controller) loadOlder() {
	if c.state != StateReady || c.olderInFlight || !c.pageInfo.HasPreviousPage {
		return
	}
	cursor := c.pageInfo.StartCursor
	limit := c.cfg.PageSize

	c.olderInFlight = true
	c.setState(StateLoadingOlder)
	c.publish()

	c.fetch(FetchBefore, func(ctx context.Context) (Page, error) {
		return c.pager.FetchBefore(ctx, cursor, limit)
	}, c.onOlder)
}

func (c *Controller) onOlder(page Page, err error) {
	c.olderInFlight = false
	if c.state != StateLoadingOlder {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}

	c.applyMerge(SourcePage, MergeEdges(c.messages, page.Edges, SourcePage))
	if start := startCursor(page); start != "" {
		c.pageInfo.StartCursor = start
	}
	c.pageInfo.HasPreviousPage = page.PageInfo.HasPreviousPage

	c.setState(StateReady)
	c.publish()
}

func (c *Controller) loadForward(cursor string) {
	limit := c.cfg.PageSize
	c.fetch(FetchAfter, func(ctx context.Context) (Page, error) {
		return c.pager.FetchAfter(ctx, cursor, limit)
	}, c.onForward)
}

func (c *Controller) onForward(page Page, err error) {
	if err != nil {
		c.syncInFlight = false
		return
	}

	if c.applyMerge(SourceForward, MergeEdges(c.messages, page.Edges, SourceForward)) {
		c.publish()
	}
	if end := endCursor(page); end != "" {
		c.pageInfo.EndCursor = end
	}

	if page.PageInfo.HasNextPage && len(page.Edges) > 0 {
		c.loadForward(c.pageInfo.EndCursor)
		return
	}
	c.syncInFlight = false
}

func (c *Controller) onChange(ch Change) {
	c.onLive(SourcePush, ch)
}

// liveEvent is a push or local change held back until the first page lands.
type liveEvent struct {
	src    Source
	change Change
}

// onLive applies a push or local event, buffering it until the first page
// has been loaded.
func (c *Controller) onLive(src Source, ch Change) {
	if !c.loaded {
		if c.state == StateUninitialized || c.state == StateLoading || c.state == StateError {
			c.pending = append(c.pending, liveEvent{src: src, change: ch})
		}
		return
	}
	if c.mergeLive(src, ch) {
		c.publish()
	}
}

func (c *Controller) mergeLive(src Source, ch Change) bool {
	if ch.Kind == ChangeUpdated && !c.contains(ch.Message.ID) {
		// Outside the loaded range; it arrives with its page later.
		return false
	}
	return c.applyMerge(src, Merge(c.messages, []Message{ch.Message}, src))
}

func (c *Controller) applyMerge(src Source, res MergeResult) bool {
	for _, id := range res.Stale {
		c.obs.StaleIgnored(src, id)
	}
	if !res.Changed() {
		return false
	}

	c.messages = res.Messages
	origin, renumbered := c.stab.Apply(res.InsertedBefore, res.InsertedAfter)
	if renumbered {
		c.obs.Renumbered(c.stab.Epoch(), origin)
	}
	c.obs.MergeApplied(src, res, origin)
	return true
}

func (c *Controller) fail(err error) {
	c.err = err
	c.setState(StateError)
	c.publish()
}

func (c *Controller) contains(id string) bool {
	for _, m := range c.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (c *Controller) setState(to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	c.obs.StateChanged(from, to)
}

func (c *Controller) publish() {
	c.version++
	snap := Snapshot{
		State:        c.state,
		Messages:     c.messages,
		FirstIndex:   c.stab.Origin(),
		PageInfo:     c.pageInfo,
		HasMoreOlder: c.pageInfo.HasPreviousPage,
		Epoch:        c.stab.Epoch(),
		Err:          c.err,
		Version:      c.version,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap = snap
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func startCursor(p Page) string {
	if p.PageInfo.StartCursor != "" {
		return p.PageInfo.StartCursor
	}
	if len(p.Edges) > 0 {
		return p.Edges[0].Cursor
	}
	return ""
}

func endCursor(p Page) string {
	if p.PageInfo.EndCursor != "" {
		return p.PageInfo.EndCursor
	}
	if len(p.Edges) > 0 {
		return p.Edges[len(p.Edges)-1].Cursor
	}
	return ""
}
