package dbsp

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// NestedOp runs a child circuit to a fixed point in every tick of its parent.
//
// Per tick the operator integrates its imports, feeds the integrals to the child as a single
// change in iteration 0, and steps the child until every delay of the child latches an empty
// change. The sum of the export over the iterations is the export for the integrated imports,
// and the operator emits its difference from the previous tick.
//
// The child is reset at the start of every tick, so the cost of a tick grows with the
// accumulated imports and the size of the fixed point, not with the size of the change. Only
// the emitted output is incremental.
type NestedOp struct {
	BaseOp
	child      *Circuit
	integrated []*zset.ZSet
	output     *zset.ZSet

	stagedIntegrated []*zset.ZSet
	stagedOutput     *zset.ZSet
}

func newNestedOp(name string, child *Circuit) *NestedOp {
	n := &NestedOp{BaseOp: NewBaseOp("nested", name, len(child.imports)), child: child}
	n.Reset()
	return n
}

// Circuit returns the child circuit.
func (n *NestedOp) Circuit() *Circuit { return n.child }

func (n *NestedOp) OpType() OperatorType { return OpTypeStructural }

func (n *NestedOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	for i, imp := range n.child.imports {
		imp.Op.(*InputOp).schema = inputs[i]
	}
	if err := n.child.inferSchemas(); err != nil {
		return nil, err
	}
	return n.child.export.Schema, nil
}

func (n *NestedOp) Eval(ctx *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	child := n.child
	spanCtx, span := child.tracer.Start(ctx, "dbsp.FixedPoint")
	span.SetAttributes(attribute.String("circuit", child.name), attribute.Int64("tick", int64(ctx.Time)))
	defer span.End()

	integrated := make([]*zset.ZSet, len(inputs))
	for i, in := range inputs {
		integrated[i] = n.integrated[i].Add(in)
	}

	output, iterations, err := n.fixedPoint(spanCtx, integrated)
	child.metrics.observeIterations(child.name, iterations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("iterations", iterations))
	ctx.Logger.V(2).Info("fixed point reached", "iterations", iterations, "size", output.Size())

	n.stagedIntegrated = integrated
	n.stagedOutput = output
	return output.Subtract(n.output), nil
}

// fixedPoint evaluates the child from scratch on the integrated imports.
func (n *NestedOp) fixedPoint(ctx context.Context, imports []*zset.ZSet) (*zset.ZSet, int, error) {
	child := n.child
	child.reset()
	defer child.reset()

	empty := zset.New()
	acc := zset.New()
	for iter := 0; ; iter++ {
		if iter >= child.cfg.MaxIterations {
			return nil, iter, NewNotConvergedError(child.name, iter)
		}
		for i, imp := range child.imports {
			if iter == 0 {
				imp.Op.(*InputOp).SetData(imports[i])
			} else {
				imp.Op.(*InputOp).SetData(empty)
			}
		}

		t := trace.Time(iter)
		results, err := child.run(ctx, t)
		if err != nil {
			child.abort()
			return nil, iter + 1, err
		}
		acc.AddInPlace(results[child.export.ID])

		converged := true
		for _, s := range child.strict {
			if !results[s.Inputs[0].ID].IsZero() {
				converged = false
				break
			}
		}
		child.commit(t)
		if converged {
			return acc, iter + 1, nil
		}
	}
}

func (n *NestedOp) Init(StateOptions) {}

func (n *NestedOp) Commit(trace.Time) {
	if n.stagedOutput == nil {
		return
	}
	n.integrated, n.output = n.stagedIntegrated, n.stagedOutput
	n.stagedIntegrated, n.stagedOutput = nil, nil
}

func (n *NestedOp) Abort() { n.stagedIntegrated, n.stagedOutput = nil, nil }

func (n *NestedOp) Reset() {
	n.integrated = make([]*zset.ZSet, n.Arity())
	for i := range n.integrated {
		n.integrated[i] = zset.New()
	}
	n.output = zset.New()
	n.Abort()
}

func (n *NestedOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	for i, z := range n.integrated {
		if err := saveZSet(ctx, store, fmt.Sprintf("%s/import/%d", id, i), z); err != nil {
			return err
		}
	}
	return saveZSet(ctx, store, id+"/output", n.output)
}

func (n *NestedOp) Restore(ctx context.Context, store storage.Store, id string) error {
	integrated := make([]*zset.ZSet, n.Arity())
	for i := range integrated {
		z, err := loadZSet(ctx, store, fmt.Sprintf("%s/import/%d", id, i))
		if err != nil {
			return err
		}
		integrated[i] = z
	}
	output, err := loadZSet(ctx, store, id+"/output")
	if err != nil {
		return err
	}
	n.Reset()
	n.integrated, n.output = integrated, output
	return nil
}
