package dbsp

import (
	"context"
	"slices"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// DistinctOp converts its input to set semantics incrementally. It keeps the trace of its input
// and, for every row touched by the current change, emits +1 when the accumulated weight turns
// positive and -1 when it stops being positive.
type DistinctOp struct {
	BaseOp
	trace *indexedTrace
}

func NewDistinct(name string) *DistinctOp {
	return &DistinctOp{BaseOp: NewBaseOp("distinct", name, 1), trace: newIndexedTrace(nil)}
}

func (n *DistinctOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *DistinctOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *DistinctOp) Eval(ctx *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, e := range inputs[0].Entries() {
		before := n.trace.spine.Lookup(e.Tuple)
		after := before + e.Weight
		switch {
		case before <= 0 && after > 0:
			_ = out.Insert(e.Tuple, 1)
		case before > 0 && after <= 0:
			_ = out.Insert(e.Tuple, -1)
		}
		n.trace.stage(ctx.Time, e.Tuple, zset.Tuple{}, e.Weight)
	}
	return out, nil
}

func (n *DistinctOp) Init(opts StateOptions) { n.trace.init(opts) }
func (n *DistinctOp) Commit(t trace.Time)    { n.trace.commit(t) }
func (n *DistinctOp) Abort()                 { n.trace.abort() }
func (n *DistinctOp) Reset()                 { n.trace.reset() }
func (n *DistinctOp) spines() []*trace.Spine { return []*trace.Spine{n.trace.spine} }

func (n *DistinctOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	return n.trace.checkpoint(ctx, store, id)
}

func (n *DistinctOp) Restore(ctx context.Context, store storage.Store, id string) error {
	return n.trace.restore(ctx, store, id)
}

// group collects the changes of one group in the current tick.
type group struct {
	key   zset.Tuple
	delta []zset.Entry
}

// groupDelta splits a change by group key, returning the groups in key order.
func groupDelta(t *indexedTrace, delta *zset.ZSet) ([]*group, error) {
	byKey := map[string]*group{}
	var groups []*group
	for _, e := range delta.Entries() {
		key, err := t.key(e.Tuple)
		if err != nil {
			return nil, NewDataError(err)
		}
		k := key.Key()
		g, ok := byKey[k]
		if !ok {
			g = &group{key: key}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.delta = append(g.delta, e)
	}
	slices.SortFunc(groups, func(a, b *group) int { return a.key.Compare(b.key) })
	return groups, nil
}

// apply returns the rows of a group after the change.
func (g *group) apply(old []zset.Entry) []zset.Entry {
	z := zset.New()
	for _, e := range old {
		_ = z.Insert(e.Tuple, e.Weight)
	}
	for _, e := range g.delta {
		_ = z.Insert(e.Tuple, e.Weight)
	}
	return z.Entries()
}

// groupTransform is the per-group computation of a grouped operator: it maps the rows of a
// group to the output rows of the group.
type groupTransform func(key zset.Tuple, rows []zset.Entry) (*zset.ZSet, error)

// evalGrouped applies a non-incremental per-group transform incrementally: for each group
// touched by the change it emits the transform of the new rows minus the transform of the old
// rows, and stages the change in the trace.
func evalGrouped(ctx *EvalContext, t *indexedTrace, delta *zset.ZSet, fn groupTransform) (*zset.ZSet, error) {
	groups, err := groupDelta(t, delta)
	if err != nil {
		return nil, err
	}
	out := zset.New()
	for _, g := range groups {
		old := t.rows(g.key)
		before, err := fn(g.key, old)
		if err != nil {
			return nil, err
		}
		after, err := fn(g.key, g.apply(old))
		if err != nil {
			return nil, err
		}
		out.AddInPlace(after.Subtract(before))
	}
	for _, g := range groups {
		for _, e := range g.delta {
			t.stage(ctx.Time, g.key, e.Tuple, e.Weight)
		}
	}
	return out, nil
}

// AggregateOp groups its input by a set of columns and emits one row per group: the group key
// followed by the value of each aggregator. When a group changes, the old row is retracted
// and the new one inserted; groups whose aggregates do not change emit nothing.
type AggregateOp struct {
	BaseOp
	groupBy []int
	aggs    []Aggregator
	trace   *indexedTrace
}

func NewAggregate(name string, groupBy []int, aggs ...Aggregator) *AggregateOp {
	return &AggregateOp{
		BaseOp:  NewBaseOp("aggregate", name, 1),
		groupBy: groupBy,
		aggs:    aggs,
		trace:   newIndexedTrace(groupBy),
	}
}

func (n *AggregateOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *AggregateOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	if len(n.aggs) == 0 {
		return nil, NewConstructionError("aggregate %s: no aggregators", n.name)
	}
	in := inputs[0]
	if in == nil {
		return nil, nil
	}
	key, err := in.Project(n.groupBy)
	if err != nil {
		return nil, err
	}
	out := append(zset.Schema{}, key...)
	for _, a := range n.aggs {
		k, err := a.ResultKind(in)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func (n *AggregateOp) Eval(ctx *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return evalGrouped(ctx, n.trace, inputs[0], n.aggregate)
}

func (n *AggregateOp) aggregate(key zset.Tuple, rows []zset.Entry) (*zset.ZSet, error) {
	out := zset.New()
	if len(rows) == 0 {
		return out, nil
	}
	row := key.Clone()
	for _, a := range n.aggs {
		v, err := a.Aggregate(rows)
		if err != nil {
			return nil, NewDataError(err)
		}
		row = append(row, v)
	}
	if err := out.Insert(row, 1); err != nil {
		return nil, NewDataError(err)
	}
	return out, nil
}

func (n *AggregateOp) Init(opts StateOptions) { n.trace.init(opts) }
func (n *AggregateOp) Commit(t trace.Time)    { n.trace.commit(t) }
func (n *AggregateOp) Abort()                 { n.trace.abort() }
func (n *AggregateOp) Reset()                 { n.trace.reset() }
func (n *AggregateOp) spines() []*trace.Spine { return []*trace.Spine{n.trace.spine} }

func (n *AggregateOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	return n.trace.checkpoint(ctx, store, id)
}

func (n *AggregateOp) Restore(ctx context.Context, store storage.Store, id string) error {
	return n.trace.restore(ctx, store, id)
}
