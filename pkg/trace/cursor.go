package trace

import (
	"sort"

	"github.com/l7mp/dbsp/pkg/zset"
)

// Cursor navigates the entries of a batch in order.
type Cursor struct {
	batch *Batch
	pos   int
}

// Valid reports whether the cursor points at an entry.
func (c *Cursor) Valid() bool { return c.pos < len(c.batch.entries) }

// Entry returns the current entry. The cursor must be valid.
func (c *Cursor) Entry() Entry { return c.batch.entries[c.pos] }

func (c *Cursor) Key() zset.Tuple     { return c.batch.entries[c.pos].Key }
func (c *Cursor) Val() zset.Tuple     { return c.batch.entries[c.pos].Val }
func (c *Cursor) Time() Time          { return c.batch.entries[c.pos].Time }
func (c *Cursor) Weight() zset.Weight { return c.batch.entries[c.pos].Weight }

// Step moves to the next entry.
func (c *Cursor) Step() {
	if c.Valid() {
		c.pos++
	}
}

// StepKey moves to the first entry of the next key.
func (c *Cursor) StepKey() {
	if !c.Valid() {
		return
	}
	key := c.Key()
	c.SeekKeyAfter(key)
}

// SeekKey moves forward to the first entry whose key is at least key. The cursor never moves
// backwards.
func (c *Cursor) SeekKey(key zset.Tuple) {
	entries := c.batch.entries[c.pos:]
	c.pos += sort.Search(len(entries), func(i int) bool { return entries[i].Key.Compare(key) >= 0 })
}

// SeekKeyAfter moves forward to the first entry whose key is larger than key.
func (c *Cursor) SeekKeyAfter(key zset.Tuple) {
	entries := c.batch.entries[c.pos:]
	c.pos += sort.Search(len(entries), func(i int) bool { return entries[i].Key.Compare(key) > 0 })
}

// Rewind moves the cursor back to the first entry.
func (c *Cursor) Rewind() { c.pos = 0 }

// LastKey returns the largest key of the batch, or nil for an empty batch.
func (c *Cursor) LastKey() zset.Tuple {
	if n := len(c.batch.entries); n > 0 {
		return c.batch.entries[n-1].Key
	}
	return nil
}
