package zset

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Tuple is an ordered record of normalized scalar values. Tuples are treated as immutable once
// they are stored in a Z-set.
type Tuple []any

// NewTuple creates a tuple, normalizing each element.
func NewTuple(vals ...any) (Tuple, error) {
	t := make(Tuple, len(vals))
	for i, v := range vals {
		n, err := Normalize(v)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		t[i] = n
	}
	return t, nil
}

// T is like NewTuple but panics on unsupported values. It is meant for literals.
func T(vals ...any) Tuple {
	t, err := NewTuple(vals...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks that every element is normalized.
func (t Tuple) Validate() error {
	for i, v := range t {
		if KindOf(v) == KindAny {
			return errors.Mark(errors.Newf("element %d: unsupported value type %T", i, v), ErrInvalidValue)
		}
	}
	return nil
}

// Compare orders tuples lexicographically; a proper prefix sorts first.
func (t Tuple) Compare(o Tuple) int {
	n := min(len(t), len(o))
	for i := 0; i < n; i++ {
		if c := CompareValues(t[i], o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(t) < len(o):
		return -1
	case len(t) > len(o):
		return 1
	}
	return 0
}

// Equal reports whether two tuples hold the same values.
func (t Tuple) Equal(o Tuple) bool { return len(t) == len(o) && t.Compare(o) == 0 }

// Key returns the canonical encoding of the tuple. Keys of equal tuples are equal and keys
// sort bytewise in the same order as Compare.
func (t Tuple) Key() string { return string(t.AppendKey(nil)) }

// AppendKey appends the canonical encoding of the tuple to buf.
func (t Tuple) AppendKey(buf []byte) []byte {
	for _, v := range t {
		buf = appendValue(buf, v)
	}
	return buf
}

// DecodeTuple decodes a tuple from its canonical encoding.
func DecodeTuple(buf []byte) (Tuple, error) {
	t := Tuple{}
	for len(buf) > 0 {
		v, rest, err := decodeValue(buf)
		if err != nil {
			return nil, err
		}
		t = append(t, v)
		buf = rest
	}
	return t, nil
}

// Project returns the elements at the given column positions.
func (t Tuple) Project(cols []int) (Tuple, error) {
	ret := make(Tuple, len(cols))
	for i, c := range cols {
		if c < 0 || c >= len(t) {
			return nil, errors.Mark(errors.Newf("column %d out of range for tuple of arity %d", c, len(t)),
				ErrInvalidValue)
		}
		ret[i] = t[c]
	}
	return ret, nil
}

// Without returns the elements not at the given column positions, in order.
func (t Tuple) Without(cols []int) Tuple {
	skip := make(map[int]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	ret := make(Tuple, 0, len(t))
	for i, v := range t {
		if !skip[i] {
			ret = append(ret, v)
		}
	}
	return ret
}

// Concat returns a new tuple holding the elements of t followed by those of the others.
func (t Tuple) Concat(others ...Tuple) Tuple {
	n := len(t)
	for _, o := range others {
		n += len(o)
	}
	ret := make(Tuple, 0, n)
	ret = append(ret, t...)
	for _, o := range others {
		ret = append(ret, o...)
	}
	return ret
}

// Clone returns a copy of the tuple.
func (t Tuple) Clone() Tuple {
	if t == nil {
		return nil
	}
	return append(make(Tuple, 0, len(t)), t...)
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		switch x := v.(type) {
		case nil:
			parts[i] = "null"
		case string:
			parts[i] = fmt.Sprintf("%q", x)
		default:
			parts[i] = fmt.Sprintf("%v", x)
		}
	}
	return "(" + strings.Join(parts, ",") + ")"
}
