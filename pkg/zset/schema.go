package zset

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrSchemaMismatch marks tuples or streams whose shape does not match the declared schema.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Schema describes the shape of the tuples carried by a stream. A nil schema is unknown and
// accepts everything. KindAny columns accept any value; every other column also accepts null.
type Schema []Kind

// NewSchema parses a list of kind names.
func NewSchema(names ...string) (Schema, error) {
	s := make(Schema, len(names))
	for i, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		s[i] = k
	}
	return s, nil
}

// Known reports whether the schema constrains anything.
func (s Schema) Known() bool { return s != nil }

// Validate checks a tuple against the schema.
func (s Schema) Validate(t Tuple) error {
	if s == nil {
		return nil
	}
	if len(t) != len(s) {
		return errors.Mark(errors.Newf("tuple %s has arity %d, expected %d", t, len(t), len(s)),
			ErrSchemaMismatch)
	}
	for i, k := range s {
		vk := KindOf(t[i])
		if k == KindAny || vk == KindNull || vk == k {
			continue
		}
		return errors.Mark(errors.Newf("tuple %s: column %d is %s, expected %s", t, i, vk, k),
			ErrSchemaMismatch)
	}
	return nil
}

// Compatible reports whether two schemas can describe the same stream.
func (s Schema) Compatible(o Schema) bool {
	if s == nil || o == nil {
		return true
	}
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != KindAny && o[i] != KindAny && s[i] != o[i] {
			return false
		}
	}
	return true
}

// Unify returns the more specific of two compatible schemas.
func (s Schema) Unify(o Schema) (Schema, error) {
	if !s.Compatible(o) {
		return nil, errors.Mark(errors.Newf("incompatible schemas %s and %s", s, o), ErrSchemaMismatch)
	}
	if s == nil {
		return o, nil
	}
	if o == nil {
		return s, nil
	}
	ret := make(Schema, len(s))
	for i := range s {
		ret[i] = s[i]
		if ret[i] == KindAny {
			ret[i] = o[i]
		}
	}
	return ret, nil
}

// Project returns the schema of the given columns.
func (s Schema) Project(cols []int) (Schema, error) {
	if s == nil {
		return nil, nil
	}
	ret := make(Schema, len(cols))
	for i, c := range cols {
		if c < 0 || c >= len(s) {
			return nil, errors.Mark(errors.Newf("column %d out of range for schema %s", c, s),
				ErrSchemaMismatch)
		}
		ret[i] = s[c]
	}
	return ret, nil
}

// Without returns the schema of the columns not listed.
func (s Schema) Without(cols []int) Schema {
	if s == nil {
		return nil
	}
	skip := make(map[int]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	ret := Schema{}
	for i, k := range s {
		if !skip[i] {
			ret = append(ret, k)
		}
	}
	return ret
}

// Concat joins schemas; the result is unknown if any part is unknown.
func (s Schema) Concat(others ...Schema) Schema {
	if s == nil {
		return nil
	}
	ret := append(Schema{}, s...)
	for _, o := range others {
		if o == nil {
			return nil
		}
		ret = append(ret, o...)
	}
	return ret
}

func (s Schema) String() string {
	if s == nil {
		return "<unknown>"
	}
	parts := make([]string, len(s))
	for i, k := range s {
		parts[i] = k.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
