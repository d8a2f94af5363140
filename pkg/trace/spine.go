package trace

import (
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/l7mp/dbsp/pkg/zset"
)

// ErrCompacted is returned by time-bounded lookups below the frontier of a spine.
var ErrCompacted = errors.New("history compacted")

// DefaultGrowthFactor is the size ratio between consecutive size classes of a spine.
const DefaultGrowthFactor = 2

// Options configures a spine.
type Options struct {
	// GrowthFactor is the size ratio between consecutive size classes, at least 2.
	GrowthFactor int
	Logger       logr.Logger
}

// Spine is the trace of a stream: a sequence of batches ordered from oldest to newest. Each
// batch belongs to a size class (the floor of the logarithm of its length in the growth
// factor) and a newer batch always has a strictly smaller size class than the older one
// before it, which keeps the number of batches logarithmic in the number of updates.
//
// Updates below the frontier are indistinguishable from updates at the frontier: merges
// advance their times, and lookups at times below the frontier fail with ErrCompacted.
type Spine struct {
	batches  []*Batch
	growth   int
	frontier Time
	log      logr.Logger
}

// NewSpine creates an empty spine.
func NewSpine(opts Options) *Spine {
	growth := opts.GrowthFactor
	if growth < 2 {
		growth = DefaultGrowthFactor
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Spine{growth: growth, log: log}
}

func (s *Spine) sizeClass(b *Batch) int {
	class := 0
	for n := b.Len(); n >= s.growth; n /= s.growth {
		class++
	}
	return class
}

// Insert appends a batch to the spine and merges batches until the size classes strictly
// decrease from the oldest to the newest batch.
func (s *Spine) Insert(b *Batch) {
	if b == nil || b.IsEmpty() {
		return
	}
	s.batches = append(s.batches, b)
	s.maintain()
}

func (s *Spine) maintain() {
	for i := len(s.batches) - 1; i > 0; i-- {
		older, newer := s.batches[i-1], s.batches[i]
		if s.sizeClass(newer) < s.sizeClass(older) {
			continue
		}
		merged := Merge(older, newer, s.frontier)
		s.log.V(4).Info("merge", "older", older.Len(), "newer", newer.Len(), "merged", merged.Len(),
			"frontier", s.frontier)
		s.batches[i-1] = merged
		s.batches = append(s.batches[:i], s.batches[i+1:]...)
	}

	// cancellation may leave empty batches behind
	n := 0
	for _, b := range s.batches {
		if !b.IsEmpty() {
			s.batches[n] = b
			n++
		}
	}
	clear(s.batches[n:])
	s.batches = s.batches[:n]
}

// Frontier returns the current frontier.
func (s *Spine) Frontier() Time { return s.frontier }

// AdvanceTime moves the frontier forward to t. Moving backwards is a no-op. Times are
// advanced lazily, when batches are merged.
func (s *Spine) AdvanceTime(t Time) {
	if t > s.frontier {
		s.frontier = t
	}
}

// CompactBefore advances the frontier to t and eagerly merges every batch whose updates all
// happened before t into a single batch. Spines never call it on their own: AdvanceTime only
// moves the frontier, and history is merged lazily by Insert. Circuits compact their traces
// when they write a checkpoint.
func (s *Spine) CompactBefore(t Time) {
	s.AdvanceTime(t)
	n := 0
	for n < len(s.batches) && s.batches[n].Upper() <= t {
		n++
	}
	if n == 0 {
		return
	}
	merged := Empty(s.batches[0].Lower(), s.batches[0].Lower())
	for _, b := range s.batches[:n] {
		merged = Merge(merged, b, s.frontier)
	}
	s.log.V(4).Info("compact", "before", t, "batches", n, "merged", merged.Len())
	rest := s.batches[n:]
	s.batches = append([]*Batch{merged}, rest...)
	s.maintain()
}

// Len returns the number of stored updates over all batches.
func (s *Spine) Len() int {
	n := 0
	for _, b := range s.batches {
		n += b.Len()
	}
	return n
}

// NumBatches returns the number of batches.
func (s *Spine) NumBatches() int { return len(s.batches) }

// Batches returns the batches from oldest to newest. The slice must not be modified.
func (s *Spine) Batches() []*Batch { return s.batches }

// IsEmpty reports whether the spine holds no updates.
func (s *Spine) IsEmpty() bool { return len(s.batches) == 0 }

// Clear drops every batch and resets the frontier.
func (s *Spine) Clear() {
	s.batches = nil
	s.frontier = 0
}

// scanKey calls fn for every update of key in every batch.
func (s *Spine) scanKey(key zset.Tuple, fn func(e *Entry)) {
	for _, b := range s.batches {
		c := b.Cursor()
		c.SeekKey(key)
		for ; c.Valid() && c.Key().Equal(key); c.Step() {
			fn(&b.entries[c.pos])
		}
	}
}

// Lookup returns the accumulated weight of all values under key.
func (s *Spine) Lookup(key zset.Tuple) zset.Weight {
	var w zset.Weight
	s.scanKey(key, func(e *Entry) { w += e.Weight })
	return w
}

// LookupAt returns the weight accumulated under key by all updates up to and including t.
func (s *Spine) LookupAt(key zset.Tuple, t Time) (zset.Weight, error) {
	if t < s.frontier {
		return 0, errors.Mark(errors.Newf("lookup at time %d below frontier %d", t, s.frontier), ErrCompacted)
	}
	var w zset.Weight
	s.scanKey(key, func(e *Entry) {
		if e.Time <= t {
			w += e.Weight
		}
	})
	return w, nil
}

// Values returns the values under key with their accumulated non-zero weights, in value order.
func (s *Spine) Values(key zset.Tuple) []Record {
	b := NewBuilder(0, 0)
	s.scanKey(key, func(e *Entry) { b.Push(e.Key, e.Val, 0, e.Weight) })
	return records(b.Seal())
}

// ValuesAt is like Values but only considers updates up to and including t.
func (s *Spine) ValuesAt(key zset.Tuple, t Time) ([]Record, error) {
	if t < s.frontier {
		return nil, errors.Mark(errors.Newf("lookup at time %d below frontier %d", t, s.frontier), ErrCompacted)
	}
	b := NewBuilder(0, 0)
	s.scanKey(key, func(e *Entry) {
		if e.Time <= t {
			b.Push(e.Key, e.Val, 0, e.Weight)
		}
	})
	return records(b.Seal()), nil
}

// Range returns the consolidated contents for keys in [lo, hi). A nil lo starts at the
// smallest key, a nil hi runs to the end.
func (s *Spine) Range(lo, hi zset.Tuple) []Record {
	b := NewBuilder(0, 0)
	for _, batch := range s.batches {
		c := batch.Cursor()
		if lo != nil {
			c.SeekKey(lo)
		}
		for ; c.Valid(); c.Step() {
			if hi != nil && c.Key().Compare(hi) >= 0 {
				break
			}
			b.Push(c.Key(), c.Val(), 0, c.Weight())
		}
	}
	return records(b.Seal())
}

// Consolidate returns the accumulated contents of the whole trace.
func (s *Spine) Consolidate() []Record { return s.Range(nil, nil) }

// ToZSet returns the accumulated contents as a Z-set of key ++ value tuples.
func (s *Spine) ToZSet() *zset.ZSet {
	z := zset.New()
	for _, r := range s.Consolidate() {
		_ = z.Insert(r.Key.Concat(r.Val), r.Weight)
	}
	return z
}

func records(b *Batch) []Record {
	ret := make([]Record, len(b.entries))
	for i, e := range b.entries {
		ret[i] = Record{Key: e.Key, Val: e.Val, Weight: e.Weight}
	}
	return ret
}
