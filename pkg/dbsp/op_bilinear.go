package dbsp

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// JoinProjector builds an output row from a matching pair of rows.
type JoinProjector func(left, right zset.Tuple) (zset.Tuple, error)

// JoinSpec describes an equi-join.
type JoinSpec struct {
	// LeftKey and RightKey are the key columns of the two inputs, pairwise compared. Empty
	// keys produce the cross product.
	LeftKey, RightKey []int
	// Project builds the output rows. The default output is the key, followed by the non-key
	// columns of the left row, then the non-key columns of the right row.
	Project JoinProjector
	// Schema is the output schema of a custom projector, nil if unknown.
	Schema zset.Schema
}

// JoinOp is the incremental equi-join of two streams. It keeps the trace of both inputs and
// computes the change of the join from the identity
//
//	Δ(A⋈B) = ΔA⋈B + A⋈ΔB + ΔA⋈ΔB
//
// where A and B are the traces before the current tick.
type JoinOp struct {
	BaseOp
	spec        JoinSpec
	left, right *indexedTrace
}

func NewJoin(name string, spec JoinSpec) *JoinOp {
	return &JoinOp{
		BaseOp: NewBaseOp("join", name, 2),
		spec:   spec,
		left:   newIndexedTrace(spec.LeftKey),
		right:  newIndexedTrace(spec.RightKey),
	}
}

func (n *JoinOp) OpType() OperatorType { return OpTypeBilinear }

func (n *JoinOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	if len(n.spec.LeftKey) != len(n.spec.RightKey) {
		return nil, NewConstructionError("join %s: %d left key columns but %d right key columns",
			n.name, len(n.spec.LeftKey), len(n.spec.RightKey))
	}
	lk, err := inputs[0].Project(n.spec.LeftKey)
	if err != nil {
		return nil, err
	}
	rk, err := inputs[1].Project(n.spec.RightKey)
	if err != nil {
		return nil, err
	}
	if !lk.Compatible(rk) {
		return nil, errors.Mark(errors.Newf("join %s: key schemas %s and %s differ", n.name, lk, rk),
			zset.ErrSchemaMismatch)
	}
	if n.spec.Project != nil {
		return n.spec.Schema, nil
	}
	if inputs[0] == nil || inputs[1] == nil {
		return nil, nil
	}
	return lk.Concat(inputs[0].Without(n.spec.LeftKey), inputs[1].Without(n.spec.RightKey)), nil
}

func (n *JoinOp) project(left, right zset.Tuple) (zset.Tuple, error) {
	if n.spec.Project != nil {
		return n.spec.Project(left, right)
	}
	key, err := left.Project(n.spec.LeftKey)
	if err != nil {
		return nil, err
	}
	return key.Concat(left.Without(n.spec.LeftKey), right.Without(n.spec.RightKey)), nil
}

func (n *JoinOp) emit(out *zset.ZSet, left, right zset.Tuple, w zset.Weight) error {
	row, err := n.project(left, right)
	if err != nil {
		return NewDataError(err)
	}
	if err := out.Insert(row, w); err != nil {
		return NewDataError(err)
	}
	return nil
}

func (n *JoinOp) Eval(ctx *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	deltaA, deltaB := inputs[0], inputs[1]

	type keyed struct {
		key zset.Tuple
		row zset.Entry
	}
	var rightDelta []keyed
	rightByKey := map[string][]zset.Entry{}
	for _, b := range deltaB.Entries() {
		key, err := n.right.key(b.Tuple)
		if err != nil {
			return nil, NewDataError(err)
		}
		rightDelta = append(rightDelta, keyed{key: key, row: b})
		k := key.Key()
		rightByKey[k] = append(rightByKey[k], b)
	}

	out := zset.New()
	for _, a := range deltaA.Entries() {
		key, err := n.left.key(a.Tuple)
		if err != nil {
			return nil, NewDataError(err)
		}
		// ΔA⋈B
		for _, b := range n.right.rows(key) {
			if err := n.emit(out, a.Tuple, b.Tuple, a.Weight*b.Weight); err != nil {
				return nil, err
			}
		}
		// ΔA⋈ΔB
		for _, b := range rightByKey[key.Key()] {
			if err := n.emit(out, a.Tuple, b.Tuple, a.Weight*b.Weight); err != nil {
				return nil, err
			}
		}
		n.left.stage(ctx.Time, key, a.Tuple, a.Weight)
	}
	// A⋈ΔB
	for _, kb := range rightDelta {
		for _, a := range n.left.rows(kb.key) {
			if err := n.emit(out, a.Tuple, kb.row.Tuple, a.Weight*kb.row.Weight); err != nil {
				return nil, err
			}
		}
		n.right.stage(ctx.Time, kb.key, kb.row.Tuple, kb.row.Weight)
	}
	return out, nil
}

func (n *JoinOp) Init(opts StateOptions) {
	n.left.init(opts)
	n.right.init(opts)
}

func (n *JoinOp) Commit(t trace.Time) {
	n.left.commit(t)
	n.right.commit(t)
}

func (n *JoinOp) Abort() {
	n.left.abort()
	n.right.abort()
}

func (n *JoinOp) Reset() {
	n.left.reset()
	n.right.reset()
}

func (n *JoinOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	if err := n.left.checkpoint(ctx, store, id+"/left"); err != nil {
		return err
	}
	return n.right.checkpoint(ctx, store, id+"/right")
}

func (n *JoinOp) Restore(ctx context.Context, store storage.Store, id string) error {
	if err := n.left.restore(ctx, store, id+"/left"); err != nil {
		return err
	}
	return n.right.restore(ctx, store, id+"/right")
}

// Traces returns the committed traces of the left and the right input.
func (n *JoinOp) Traces() (*trace.Spine, *trace.Spine) { return n.left.spine, n.right.spine }

func (n *JoinOp) spines() []*trace.Spine { return []*trace.Spine{n.left.spine, n.right.spine} }
