package dbsp

import (
	"github.com/l7mp/dbsp/pkg/zset"
)

// MapFunc transforms a row.
type MapFunc func(zset.Tuple) (zset.Tuple, error)

// FlatMapFunc transforms a row into any number of rows.
type FlatMapFunc func(zset.Tuple) ([]zset.Tuple, error)

// Predicate selects rows.
type Predicate func(zset.Tuple) (bool, error)

// MapOp applies a function to every row of its input, preserving weights.
type MapOp struct {
	BaseOp
	fn     MapFunc
	schema zset.Schema
}

// NewMap creates a map operator. The output schema is optional.
func NewMap(name string, fn MapFunc, schema zset.Schema) *MapOp {
	return &MapOp{BaseOp: NewBaseOp("map", name, 1), fn: fn, schema: schema}
}

func (n *MapOp) OpType() OperatorType { return OpTypeLinear }

func (n *MapOp) OutputSchema(_ []zset.Schema) (zset.Schema, error) { return n.schema, nil }

func (n *MapOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, e := range inputs[0].Entries() {
		t, err := n.fn(e.Tuple)
		if err != nil {
			return nil, NewDataError(err)
		}
		if err := n.insert(out, t, e.Weight); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (n *MapOp) insert(out *zset.ZSet, t zset.Tuple, w zset.Weight) error {
	if err := out.Insert(t, w); err != nil {
		return NewDataError(err)
	}
	if err := n.schema.Validate(t); err != nil {
		return NewDataError(err)
	}
	return nil
}

// FlatMapOp applies a function that returns any number of rows to every row of its input. Each
// output row inherits the weight of the row it was produced from.
type FlatMapOp struct {
	MapOp
	flat FlatMapFunc
}

// NewFlatMap creates a flat-map operator. The output schema is optional.
func NewFlatMap(name string, fn FlatMapFunc, schema zset.Schema) *FlatMapOp {
	return &FlatMapOp{
		MapOp: MapOp{BaseOp: NewBaseOp("flatmap", name, 1), schema: schema},
		flat:  fn,
	}
}

func (n *FlatMapOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, e := range inputs[0].Entries() {
		ts, err := n.flat(e.Tuple)
		if err != nil {
			return nil, NewDataError(err)
		}
		for _, t := range ts {
			if err := n.insert(out, t, e.Weight); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// FilterOp keeps the rows that satisfy a predicate.
type FilterOp struct {
	BaseOp
	pred Predicate
}

func NewFilter(name string, pred Predicate) *FilterOp {
	return &FilterOp{BaseOp: NewBaseOp("filter", name, 1), pred: pred}
}

func (n *FilterOp) OpType() OperatorType { return OpTypeLinear }

func (n *FilterOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *FilterOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, e := range inputs[0].Entries() {
		ok, err := n.pred(e.Tuple)
		if err != nil {
			return nil, NewDataError(err)
		}
		if ok {
			// input rows are valid already
			_ = out.Insert(e.Tuple, e.Weight)
		}
	}
	return out, nil
}
