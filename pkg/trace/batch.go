// Package trace implements the indexed history of a stream: immutable sorted batches of
// timed updates, and spines that merge batches geometrically and compact history below a
// watermark.
package trace

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/l7mp/dbsp/pkg/zset"
)

// Time is a logical timestamp: a tick of a circuit, or an iteration inside a nested circuit.
type Time = uint64

// Entry is a single timed update.
type Entry struct {
	Key    zset.Tuple
	Val    zset.Tuple
	Time   Time
	Weight zset.Weight
}

func (e Entry) String() string {
	return fmt.Sprintf("%s→%s@%d×%d", e.Key, e.Val, e.Time, e.Weight)
}

// Record is a consolidated key/value pair with its accumulated weight.
type Record struct {
	Key    zset.Tuple
	Val    zset.Tuple
	Weight zset.Weight
}

func compareKeyVal(a, b *Entry) int {
	if c := a.Key.Compare(b.Key); c != 0 {
		return c
	}
	return a.Val.Compare(b.Val)
}

func compareEntries(a, b *Entry) int {
	if c := compareKeyVal(a, b); c != 0 {
		return c
	}
	return cmp.Compare(a.Time, b.Time)
}

// Batch is an immutable collection of updates sorted by (key, value, time), with no two
// entries for the same (key, value, time) and no zero weights. It summarizes the updates
// of the time interval [Lower, Upper).
type Batch struct {
	entries      []Entry
	lower, upper Time
}

// Empty returns an empty batch for the interval [lower, upper).
func Empty(lower, upper Time) *Batch {
	return &Batch{lower: lower, upper: upper}
}

// FromZSet creates a batch at time t from a Z-set, splitting each tuple into a key (the given
// columns) and a value (the remaining columns). With no key columns the whole tuple is the key.
func FromZSet(z *zset.ZSet, keyCols []int, t Time) (*Batch, error) {
	b := NewBuilder(t, t+1)
	for _, e := range z.Entries() {
		key, val := e.Tuple, zset.Tuple{}
		if len(keyCols) > 0 {
			k, err := e.Tuple.Project(keyCols)
			if err != nil {
				return nil, err
			}
			key, val = k, e.Tuple.Without(keyCols)
		}
		b.Push(key, val, t, e.Weight)
	}
	return b.Seal(), nil
}

func (b *Batch) Len() int      { return len(b.entries) }
func (b *Batch) IsEmpty() bool { return len(b.entries) == 0 }
func (b *Batch) Lower() Time   { return b.lower }
func (b *Batch) Upper() Time   { return b.upper }

// Entries returns the updates of the batch. The returned slice must not be modified.
func (b *Batch) Entries() []Entry { return b.entries }

// Cursor returns a cursor positioned at the first entry.
func (b *Batch) Cursor() *Cursor { return &Cursor{batch: b} }

// ToZSet collapses the batch into a Z-set of key ++ value tuples, ignoring times.
func (b *Batch) ToZSet() *zset.ZSet {
	z := zset.New()
	for i := range b.entries {
		e := &b.entries[i]
		// entries were validated on the way in
		_ = z.Insert(e.Key.Concat(e.Val), e.Weight)
	}
	return z
}

func (b *Batch) String() string {
	parts := make([]string, len(b.entries))
	for i, e := range b.entries {
		parts[i] = e.String()
	}
	return fmt.Sprintf("batch[%d,%d){%s}", b.lower, b.upper, strings.Join(parts, ", "))
}

// Builder collects updates in any order and seals them into a batch.
type Builder struct {
	entries      []Entry
	lower, upper Time
}

// NewBuilder creates a builder for a batch covering [lower, upper).
func NewBuilder(lower, upper Time) *Builder {
	return &Builder{lower: lower, upper: upper}
}

// Push adds an update.
func (b *Builder) Push(key, val zset.Tuple, t Time, w zset.Weight) {
	if w == 0 {
		return
	}
	if val == nil {
		val = zset.Tuple{}
	}
	b.entries = append(b.entries, Entry{Key: key, Val: val, Time: t, Weight: w})
}

// Len returns the number of pushed updates.
func (b *Builder) Len() int { return len(b.entries) }

// Seal sorts and consolidates the pushed updates. The builder is reset.
func (b *Builder) Seal() *Batch {
	entries := b.entries
	b.entries = nil
	slices.SortStableFunc(entries, func(x, y Entry) int { return compareEntries(&x, &y) })
	return &Batch{entries: consolidate(entries), lower: b.lower, upper: b.upper}
}

// consolidate sums adjacent entries with equal (key, value, time) in a sorted slice and drops
// zero weights, in place.
func consolidate(entries []Entry) []Entry {
	out := entries[:0]
	for i := 0; i < len(entries); {
		e := entries[i]
		j := i + 1
		for ; j < len(entries) && compareEntries(&e, &entries[j]) == 0; j++ {
			e.Weight += entries[j].Weight
		}
		if e.Weight != 0 {
			out = append(out, e)
		}
		i = j
	}
	return out
}

// advance returns the time an update at t is moved to under the given frontier.
func advance(t, frontier Time) Time { return max(t, frontier) }

// Merge merges two batches in linear time. Times below frontier are advanced to frontier and
// updates that become indistinguishable are consolidated.
func Merge(a, b *Batch, frontier Time) *Batch {
	out := make([]Entry, 0, len(a.entries)+len(b.entries))
	push := func(e Entry) {
		e.Time = advance(e.Time, frontier)
		// advancing is monotone, so equal entries can only be adjacent
		if n := len(out); n > 0 && compareEntries(&out[n-1], &e) == 0 {
			out[n-1].Weight += e.Weight
			if out[n-1].Weight == 0 {
				out = out[:n-1]
			}
			return
		}
		out = append(out, e)
	}

	i, j := 0, 0
	for i < len(a.entries) && j < len(b.entries) {
		if compareEntries(&a.entries[i], &b.entries[j]) <= 0 {
			push(a.entries[i])
			i++
		} else {
			push(b.entries[j])
			j++
		}
	}
	for ; i < len(a.entries); i++ {
		push(a.entries[i])
	}
	for ; j < len(b.entries); j++ {
		push(b.entries[j])
	}

	return &Batch{entries: out, lower: min(a.lower, b.lower), upper: max(a.upper, b.upper)}
}
