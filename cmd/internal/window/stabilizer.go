package window

const (
	// DefaultBaseOrigin is the virtual index given to the first message of a
	// fresh window. It leaves headroom for prepending older pages.
	DefaultBaseOrigin = 1_000_000

	// DefaultLowWater is the origin below which the stabilizer re-anchors.
	DefaultLowWater = 1_000
)

// Rebase returns the origin after insertedBefore messages were prepended.
// The third argument is the append count; appends never move the origin.
func Rebase(origin, insertedBefore, _ int) int {
	if insertedBefore <= 0 {
		return origin
	}
	return origin - insertedBefore
}

// Stabilizer owns the origin of the virtual index space.
//
// Within one epoch the virtual index of a message (origin + position) never
// changes. When backward growth would push the origin under the low-water
// mark, the origin is re-anchored at the base and the epoch advances; the
// controller publishes that as a single snapshot.
type Stabilizer struct {
	base     int
	lowWater int
	origin   int
	epoch    uint64
}

// NewStabilizer returns a stabilizer anchored at base. Invalid values fall
// back to the defaults.
func NewStabilizer(base, lowWater int) *Stabilizer {
	if base <= 0 {
		base = DefaultBaseOrigin
	}
	if lowWater < 0 || lowWater >= base {
		lowWater = DefaultLowWater
		if lowWater >= base {
			lowWater = 0
		}
	}
	return &Stabilizer{base: base, lowWater: lowWater, origin: base}
}

// Origin is the virtual index of the first loaded message.
func (s *Stabilizer) Origin() int { return s.origin }

// Epoch counts renumbering passes.
func (s *Stabilizer) Epoch() uint64 { return s.epoch }

// Reset anchors a fresh window at the base origin.
func (s *Stabilizer) Reset() {
	s.origin = s.base
}

// Apply rebases the origin for one merge and reports whether a renumbering
// pass was needed.
func (s *Stabilizer) Apply(insertedBefore, insertedAfter int) (origin int, renumbered bool) {
	next := Rebase(s.origin, insertedBefore, insertedAfter)
	if next < s.lowWater {
		s.origin = s.base
		s.epoch++
		return s.origin, true
	}
	s.origin = next
	return s.origin, false
}
