package zset

import (
	"fmt"
	"slices"
	"strings"
)

// Weight is the signed multiplicity of a tuple in a Z-set.
type Weight = int64

// ZSet implements Z-sets over tuples: a finite mapping from tuples to non-zero weights. Positive
// weights are insertions, negative weights are deletions and zero means absent.
type ZSet struct {
	tuples  map[string]Tuple  // canonical key -> tuple
	weights map[string]Weight // canonical key -> weight
}

// Entry is a tuple with its weight.
type Entry struct {
	Tuple  Tuple
	Weight Weight
}

func (e Entry) String() string { return fmt.Sprintf("%s×%d", e.Tuple, e.Weight) }

// New creates an empty Z-set.
func New() *ZSet {
	return &ZSet{
		tuples:  make(map[string]Tuple),
		weights: make(map[string]Weight),
	}
}

// Of creates a Z-set from literal entries. It panics on values that cannot be stored, so it
// is meant for constants and tests.
func Of(entries ...Entry) *ZSet {
	z := New()
	for _, e := range entries {
		if err := z.Insert(e.Tuple, e.Weight); err != nil {
			panic(err)
		}
	}
	return z
}

// FromTuples creates a Z-set holding each tuple with weight 1 per occurrence.
func FromTuples(ts ...Tuple) (*ZSet, error) {
	z := New()
	for _, t := range ts {
		if err := z.Insert(t, 1); err != nil {
			return nil, err
		}
	}
	return z, nil
}

// Singleton creates a Z-set containing a single tuple with weight 1.
func Singleton(t Tuple) (*ZSet, error) { return FromTuples(t) }

// Insert adds weight w to tuple t in place. Entries that sum to zero are removed.
func (z *ZSet) Insert(t Tuple, w Weight) error {
	if w == 0 {
		return nil
	}
	if err := t.Validate(); err != nil {
		return err
	}
	z.insertKey(t.Key(), t, w)
	return nil
}

func (z *ZSet) insertKey(key string, t Tuple, w Weight) {
	if w == 0 {
		return
	}
	sum := z.weights[key] + w
	if sum == 0 {
		delete(z.weights, key)
		delete(z.tuples, key)
		return
	}
	if _, ok := z.tuples[key]; !ok {
		z.tuples[key] = t
	}
	z.weights[key] = sum
}

// AddInPlace adds other to z, modifying z.
func (z *ZSet) AddInPlace(other *ZSet) {
	if other == nil {
		return
	}
	for key, w := range other.weights {
		z.insertKey(key, other.tuples[key], w)
	}
}

// Add performs Z-set addition and returns the pointwise sum as a new Z-set.
func (z *ZSet) Add(other *ZSet) *ZSet {
	ret := z.Clone()
	ret.AddInPlace(other)
	return ret
}

// Subtract returns z - other.
func (z *ZSet) Subtract(other *ZSet) *ZSet {
	ret := z.Clone()
	if other == nil {
		return ret
	}
	for key, w := range other.weights {
		ret.insertKey(key, other.tuples[key], -w)
	}
	return ret
}

// Negate returns the additive inverse of z.
func (z *ZSet) Negate() *ZSet {
	ret := New()
	for key, w := range z.weights {
		ret.tuples[key] = z.tuples[key]
		ret.weights[key] = -w
	}
	return ret
}

// Scale multiplies every weight by c.
func (z *ZSet) Scale(c Weight) *ZSet {
	ret := New()
	if c == 0 {
		return ret
	}
	for key, w := range z.weights {
		ret.tuples[key] = z.tuples[key]
		ret.weights[key] = w * c
	}
	return ret
}

// Distinct converts the Z-set to set semantics: tuples with positive weight get weight 1, the
// rest are dropped.
func (z *ZSet) Distinct() *ZSet {
	ret := New()
	for key, w := range z.weights {
		if w > 0 {
			ret.tuples[key] = z.tuples[key]
			ret.weights[key] = 1
		}
	}
	return ret
}

// Unique converts the Z-set to set semantics preserving the sign of each weight.
func (z *ZSet) Unique() *ZSet {
	ret := New()
	for key, w := range z.weights {
		ret.tuples[key] = z.tuples[key]
		if w > 0 {
			ret.weights[key] = 1
		} else {
			ret.weights[key] = -1
		}
	}
	return ret
}

// Clone creates a copy of the Z-set. Tuples are shared, they are immutable.
func (z *ZSet) Clone() *ZSet {
	ret := &ZSet{
		tuples:  make(map[string]Tuple, len(z.tuples)),
		weights: make(map[string]Weight, len(z.weights)),
	}
	for key, t := range z.tuples {
		ret.tuples[key] = t
		ret.weights[key] = z.weights[key]
	}
	return ret
}

// Equal reports whether two Z-sets hold the same weights for every tuple.
func (z *ZSet) Equal(other *ZSet) bool {
	if other == nil {
		return z.IsZero()
	}
	if len(z.weights) != len(other.weights) {
		return false
	}
	for key, w := range z.weights {
		if other.weights[key] != w {
			return false
		}
	}
	return true
}

// Entries returns all tuples with their weights, sorted by tuple order.
func (z *ZSet) Entries() []Entry {
	keys := make([]string, 0, len(z.weights))
	for key := range z.weights {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	ret := make([]Entry, len(keys))
	for i, key := range keys {
		ret[i] = Entry{Tuple: z.tuples[key], Weight: z.weights[key]}
	}
	return ret
}

// Tuples returns the tuples with positive weight; a tuple with weight n appears n times.
func (z *ZSet) Tuples() []Tuple {
	var ret []Tuple
	for _, e := range z.Entries() {
		for i := Weight(0); i < e.Weight; i++ {
			ret = append(ret, e.Tuple)
		}
	}
	return ret
}

// IsZero checks whether the Z-set is empty.
func (z *ZSet) IsZero() bool { return z == nil || len(z.weights) == 0 }

// Len returns the number of distinct tuples.
func (z *ZSet) Len() int {
	if z == nil {
		return 0
	}
	return len(z.weights)
}

// Size returns the sum of the positive weights.
func (z *ZSet) Size() Weight {
	if z == nil {
		return 0
	}
	var total Weight
	for _, w := range z.weights {
		if w > 0 {
			total += w
		}
	}
	return total
}

// TotalSize returns the sum of the absolute weights.
func (z *ZSet) TotalSize() Weight {
	if z == nil {
		return 0
	}
	var total Weight
	for _, w := range z.weights {
		if w > 0 {
			total += w
		} else {
			total -= w
		}
	}
	return total
}

// Weight returns the weight of a tuple, zero if absent.
func (z *ZSet) Weight(t Tuple) Weight {
	if z == nil || t.Validate() != nil {
		return 0
	}
	return z.weights[t.Key()]
}

// Contains checks if a tuple is in the Z-set with positive weight.
func (z *ZSet) Contains(t Tuple) bool { return z.Weight(t) > 0 }

// Validate checks every tuple against a schema.
func (z *ZSet) Validate(s Schema) error {
	if s == nil {
		return nil
	}
	for _, e := range z.Entries() {
		if err := s.Validate(e.Tuple); err != nil {
			return err
		}
	}
	return nil
}

// String returns a deterministic representation for debugging.
func (z *ZSet) String() string {
	if z.IsZero() {
		return "∅"
	}
	entries := z.Entries()
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
