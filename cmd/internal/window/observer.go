package window

import (
	"log/slog"
	"time"
)

// FetchKind names the paged read a lifecycle event refers to.
type FetchKind string

const (
	FetchNewest FetchKind = "newest"
	FetchBefore FetchKind = "before"
	FetchAfter  FetchKind = "after"
)

// Observer receives the controller's lifecycle events. It is the single
// diagnostics hook of the package; nothing else logs.
//
// Methods run on the controller's event loop and must not block.
type Observer interface {
	FetchStarted(kind FetchKind)
	FetchFinished(kind FetchKind, edges int, took time.Duration, err error)
	MergeApplied(src Source, res MergeResult, origin int)
	StaleIgnored(src Source, id string)
	Renumbered(epoch uint64, origin int)
	StateChanged(from, to State)
	SendFinished(took time.Duration, err error)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) FetchStarted(FetchKind)                             {}
func (NopObserver) FetchFinished(FetchKind, int, time.Duration, error) {}
func (NopObserver) MergeApplied(Source, MergeResult, int)              {}
func (NopObserver) StaleIgnored(Source, string)                        {}
func (NopObserver) Renumbered(uint64, int)                             {}
func (NopObserver) StateChanged(State, State)                          {}
func (NopObserver) SendFinished(time.Duration, error)                  {}

// LogObserver writes lifecycle events to a slog logger.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver constructs a LogObserver. A nil logger uses slog.Default().
func NewLogObserver(log *slog.Logger) *LogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) FetchStarted(kind FetchKind) {
	o.log.Debug("window.fetch.start", "kind", string(kind))
}

func (o *LogObserver) FetchFinished(kind FetchKind, edges int, took time.Duration, err error) {
	if err != nil {
		o.log.Warn("window.fetch.fail", "kind", string(kind), "duration_ms", took.Milliseconds(), "err", err)
		return
	}
	o.log.Info("window.fetch.done", "kind", string(kind), "edges", edges, "duration_ms", took.Milliseconds())
}

func (o *LogObserver) MergeApplied(src Source, res MergeResult, origin int) {
	o.log.Debug("window.merge.applied",
		"source", string(src),
		"inserted_before", res.InsertedBefore,
		"inserted_after", res.InsertedAfter,
		"replaced", res.Replaced,
		"stale", len(res.Stale),
		"size", len(res.Messages),
		"origin", origin,
	)
}

func (o *LogObserver) StaleIgnored(src Source, id string) {
	o.log.Debug("window.merge.stale_ignored", "source", string(src), "message_id", id)
}

func (o *LogObserver) Renumbered(epoch uint64, origin int) {
	o.log.Info("window.index.renumbered", "epoch", epoch, "origin", origin)
}

func (o *LogObserver) StateChanged(from, to State) {
	o.log.Info("window.state", "from", from.String(), "to", to.String())
}

func (o *LogObserver) SendFinished(took time.Duration, err error) {
	if err != nil {
		o.log.Warn("window.send.fail", "duration_ms", took.Milliseconds(), "err", err)
		return
	}
	o.log.Debug("window.send.done", "duration_ms", took.Milliseconds())
}

// Observers fans every event out to several observers in order.
type Observers []Observer

func (obs Observers) FetchStarted(kind FetchKind) {
	for _, o := range obs {
		o.FetchStarted(kind)
	}
}

func (obs Observers) FetchFinished(kind FetchKind, edges int, took time.Duration, err error) {
	for _, o := range obs {
		o.FetchFinished(kind, edges, took, err)
	}
}

func (obs Observers) MergeApplied(src Source, res MergeResult, origin int) {
	for _, o := range obs {
		o.MergeApplied(src, res, origin)
	}
}

func (obs Observers) StaleIgnored(src Source, id string) {
	for _, o := range obs {
		o.StaleIgnored(src, id)
	}
}

func (obs Observers) Renumbered(epoch uint64, origin int) {
	for _, o := range obs {
		o.Renumbered(epoch, origin)
	}
}

func (obs Observers) StateChanged(from, to State) {
	for _, o := range obs {
		o.StateChanged(from, to)
	}
}

func (obs Observers) SendFinished(took time.Duration, err error) {
	for _, o := range obs {
		o.SendFinished(took, err)
	}
}
