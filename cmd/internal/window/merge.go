package window

// MergeResult is the outcome of one Merge call.
type MergeResult struct {
	// Messages is the new ordered sequence. It never aliases the input slice.
	Messages []Message

	// InsertedBefore and InsertedAfter count new ids placed at the head and
	// tail; the stabilizer uses them to rebase the origin.
	InsertedBefore int
	InsertedAfter  int

	// Replaced counts existing messages overwritten by a strictly newer version.
	Replaced int

	// Stale lists ids dropped because the stored copy was as new or newer.
	Stale []string
}

// Changed reports whether the merge produced a different sequence.
func (r MergeResult) Changed() bool {
	return r.InsertedBefore > 0 || r.InsertedAfter > 0 || r.Replaced > 0
}

// Merge folds incoming into current and returns a fresh sequence.
//
// Existing ids are replaced only when the incoming UpdatedAt is strictly
// later. New ids from SourcePage are prepended as one block in batch order;
// new ids from any other source are appended. When a batch repeats an id
// the later occurrence wins and keeps the slot of the first one.
func Merge(current, incoming []Message, src Source) MergeResult {
	res := MergeResult{}

	if len(incoming) == 0 {
		res.Messages = append(make([]Message, 0, len(current)), current...)
		return res
	}

	byID := make(map[string]int, len(current))
	for i, m := range current {
		byID[m.ID] = i
	}

	// Collapse the batch: later duplicates win, first slot is kept.
	batch := make([]Message, 0, len(incoming))
	slot := make(map[string]int, len(incoming))
	for _, m := range incoming {
		if i, ok := slot[m.ID]; ok {
			batch[i] = m
			continue
		}
		slot[m.ID] = len(batch)
		batch = append(batch, m)
	}

	out := append(make([]Message, 0, len(current)+len(batch)), current...)
	var inserted []Message

	for _, m := range batch {
		i, ok := byID[m.ID]
		if !ok {
			inserted = append(inserted, m)
			continue
		}
		if m.UpdatedAt.After(out[i].UpdatedAt) {
			out[i] = m
			res.Replaced++
			continue
		}
		res.Stale = append(res.Stale, m.ID)
	}

	switch {
	case len(inserted) == 0:
	case src == SourcePage:
		out = append(inserted, out...)
		res.InsertedBefore = len(inserted)
	default:
		out = append(out, inserted...)
		res.InsertedAfter = len(inserted)
	}

	res.Messages = out
	return res
}

// MergeEdges merges a fetched page, discarding cursors.
func MergeEdges(current []Message, edges []Edge, src Source) MergeResult {
	in := make([]Message, 0, len(edges))
	for _, e := range edges {
		in = append(in, e.Message)
	}
	return Merge(current, in, src)
}
