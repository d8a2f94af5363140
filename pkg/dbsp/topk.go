package dbsp

import (
	"context"
	"slices"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// TopKOp keeps the first k rows of every group, ordered by a set of columns. Rows keep their
// weights. Ties are broken by the whole row, so the selection is deterministic.
type TopKOp struct {
	BaseOp
	orderBy    []int
	k          int
	descending bool
	trace      *indexedTrace
}

// NewTopK creates a top-k operator. With descending set the rows with the largest order
// columns are kept.
func NewTopK(name string, groupBy, orderBy []int, k int, descending bool) *TopKOp {
	return &TopKOp{
		BaseOp:     NewBaseOp("topk", name, 1),
		orderBy:    orderBy,
		k:          k,
		descending: descending,
		trace:      newIndexedTrace(groupBy),
	}
}

func (n *TopKOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *TopKOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	if n.k < 1 {
		return nil, NewConstructionError("topk %s: k must be positive, got %d", n.name, n.k)
	}
	if _, err := inputs[0].Project(n.trace.keyCols); err != nil {
		return nil, err
	}
	if _, err := inputs[0].Project(n.orderBy); err != nil {
		return nil, err
	}
	return sameSchema(inputs)
}

func (n *TopKOp) Eval(ctx *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return evalGrouped(ctx, n.trace, inputs[0], n.topK)
}

func (n *TopKOp) topK(_ zset.Tuple, rows []zset.Entry) (*zset.ZSet, error) {
	type ranked struct {
		entry zset.Entry
		order zset.Tuple
	}
	candidates := make([]ranked, 0, len(rows))
	for _, r := range rows {
		if r.Weight <= 0 {
			continue
		}
		order, err := r.Tuple.Project(n.orderBy)
		if err != nil {
			return nil, NewDataError(err)
		}
		candidates = append(candidates, ranked{entry: r, order: order})
	}
	slices.SortFunc(candidates, func(a, b ranked) int {
		c := a.order.Compare(b.order)
		if n.descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return a.entry.Tuple.Compare(b.entry.Tuple)
	})

	out := zset.New()
	for i := 0; i < len(candidates) && i < n.k; i++ {
		_ = out.Insert(candidates[i].entry.Tuple, candidates[i].entry.Weight)
	}
	return out, nil
}

func (n *TopKOp) Init(opts StateOptions) { n.trace.init(opts) }
func (n *TopKOp) Commit(t trace.Time)    { n.trace.commit(t) }
func (n *TopKOp) Abort()                 { n.trace.abort() }
func (n *TopKOp) Reset()                 { n.trace.reset() }
func (n *TopKOp) spines() []*trace.Spine { return []*trace.Spine{n.trace.spine} }

func (n *TopKOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	return n.trace.checkpoint(ctx, store, id)
}

func (n *TopKOp) Restore(ctx context.Context, store storage.Store, id string) error {
	return n.trace.restore(ctx, store, id)
}
