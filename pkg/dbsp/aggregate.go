package dbsp

import (
	"fmt"
	"math"
	"math/big"

	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/zset"
)

// Aggregator reduces the rows of a group to a single value.
type Aggregator interface {
	fmt.Stringer
	// Aggregate computes the value for the consolidated non-empty rows of a group.
	Aggregate(rows []zset.Entry) (any, error)
	// ResultKind returns the kind of the value given the input schema.
	ResultKind(in zset.Schema) (zset.Kind, error)
}

func columnKind(in zset.Schema, col int) (zset.Kind, error) {
	if col < 0 || (in != nil && col >= len(in)) {
		return zset.KindAny, NewConstructionError("column %d out of range for schema %s", col, in)
	}
	if in == nil {
		return zset.KindAny, nil
	}
	return in[col], nil
}

func numericKind(in zset.Schema, col int) (zset.Kind, error) {
	k, err := columnKind(in, col)
	if err != nil {
		return k, err
	}
	switch k {
	case zset.KindInt, zset.KindFloat, zset.KindAny:
		return k, nil
	}
	return k, NewConstructionError("column %d is %s, expected a number", col, k)
}

func column(row zset.Tuple, col int) (any, error) {
	if col < 0 || col >= len(row) {
		return nil, errors.Newf("column %d out of range for row %s", col, row)
	}
	return row[col], nil
}

// numeric accumulates weighted numbers, staying integer until a float shows up. Integer sums
// move to a big.Int on overflow, so only a result outside the int64 range is an error.
type numeric struct {
	isFloat bool
	i       int64
	wide    *big.Int
	f       float64
	n       zset.Weight
}

func (a *numeric) add(v any, w zset.Weight) error {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		a.addInt(x, w)
		a.f += float64(x) * float64(w)
	case float64:
		a.isFloat = true
		a.f += x * float64(w)
	default:
		return errors.Newf("cannot add non-numeric value %v", v)
	}
	a.n += w
	return nil
}

func (a *numeric) addInt(x int64, w zset.Weight) {
	if a.wide == nil {
		if p, ok := mulInt64(x, w); ok {
			if s, ok := addInt64(a.i, p); ok {
				a.i = s
				return
			}
		}
		a.wide = big.NewInt(a.i)
	}
	a.wide.Add(a.wide, new(big.Int).Mul(big.NewInt(x), big.NewInt(w)))
}

func (a *numeric) value() (any, error) {
	switch {
	case a.n == 0:
		return nil, nil
	case a.isFloat:
		return a.f, nil
	case a.wide != nil:
		if !a.wide.IsInt64() {
			return nil, errors.Newf("integer sum %s overflows int64", a.wide)
		}
		return a.wide.Int64(), nil
	default:
		return a.i, nil
	}
}

func addInt64(a, b int64) (int64, bool) {
	s := a + b
	return s, (b >= 0) == (s >= a)
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	return p, p/b == a
}

type countAgg struct{}

// Count counts the rows of a group, with multiplicity.
func Count() Aggregator { return countAgg{} }

func (countAgg) String() string { return "count" }

func (countAgg) ResultKind(zset.Schema) (zset.Kind, error) { return zset.KindInt, nil }

func (countAgg) Aggregate(rows []zset.Entry) (any, error) {
	var n zset.Weight
	for _, r := range rows {
		n += r.Weight
	}
	return n, nil
}

type sumAgg struct{ col int }

// Sum adds the values of a column, weighted by multiplicity. Nulls are skipped; the sum of no
// values is null. An integer sum outside the int64 range is an error.
func Sum(col int) Aggregator { return sumAgg{col: col} }

func (a sumAgg) String() string { return fmt.Sprintf("sum(%d)", a.col) }

func (a sumAgg) ResultKind(in zset.Schema) (zset.Kind, error) { return numericKind(in, a.col) }

func (a sumAgg) Aggregate(rows []zset.Entry) (any, error) {
	var acc numeric
	for _, r := range rows {
		v, err := column(r.Tuple, a.col)
		if err != nil {
			return nil, err
		}
		if err := acc.add(v, r.Weight); err != nil {
			return nil, err
		}
	}
	return acc.value()
}

type avgAgg struct{ col int }

// Average computes the weighted mean of a column as a float. Nulls are skipped.
func Average(col int) Aggregator { return avgAgg{col: col} }

func (a avgAgg) String() string { return fmt.Sprintf("avg(%d)", a.col) }

func (a avgAgg) ResultKind(in zset.Schema) (zset.Kind, error) {
	if _, err := numericKind(in, a.col); err != nil {
		return zset.KindAny, err
	}
	return zset.KindFloat, nil
}

func (a avgAgg) Aggregate(rows []zset.Entry) (any, error) {
	var acc numeric
	for _, r := range rows {
		v, err := column(r.Tuple, a.col)
		if err != nil {
			return nil, err
		}
		if err := acc.add(v, r.Weight); err != nil {
			return nil, err
		}
	}
	if acc.n == 0 {
		return nil, nil
	}
	return acc.f / float64(acc.n), nil
}

type extremumAgg struct {
	col int
	max bool
}

// Min returns the smallest non-null value of a column among the rows present in the group.
// It consults every row of the group, so retracting the minimum falls back to the next one.
func Min(col int) Aggregator { return extremumAgg{col: col} }

// Max returns the largest non-null value of a column among the rows present in the group.
func Max(col int) Aggregator { return extremumAgg{col: col, max: true} }

func (a extremumAgg) String() string {
	if a.max {
		return fmt.Sprintf("max(%d)", a.col)
	}
	return fmt.Sprintf("min(%d)", a.col)
}

func (a extremumAgg) ResultKind(in zset.Schema) (zset.Kind, error) { return columnKind(in, a.col) }

func (a extremumAgg) Aggregate(rows []zset.Entry) (any, error) {
	var best any
	found := false
	for _, r := range rows {
		if r.Weight <= 0 {
			continue
		}
		v, err := column(r.Tuple, a.col)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		c := zset.CompareValues(v, best)
		if !found || (a.max && c > 0) || (!a.max && c < 0) {
			best, found = v, true
		}
	}
	return best, nil
}

// FoldFunc adds a weighted row to an accumulator.
type FoldFunc func(acc any, row zset.Tuple, w zset.Weight) (any, error)

type foldAgg struct {
	name string
	init any
	step FoldFunc
	kind zset.Kind
}

// Fold is a custom aggregator: it starts from init and folds every row of the group into the
// accumulator in row order. The result must be a tuple element value of the given kind.
func Fold(name string, init any, kind zset.Kind, step FoldFunc) Aggregator {
	return foldAgg{name: name, init: init, step: step, kind: kind}
}

func (a foldAgg) String() string { return a.name }

func (a foldAgg) ResultKind(zset.Schema) (zset.Kind, error) { return a.kind, nil }

func (a foldAgg) Aggregate(rows []zset.Entry) (any, error) {
	acc := a.init
	for _, r := range rows {
		var err error
		if acc, err = a.step(acc, r.Tuple, r.Weight); err != nil {
			return nil, err
		}
	}
	return zset.Normalize(acc)
}
