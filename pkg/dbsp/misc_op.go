package dbsp

import (
	"context"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// InputOp is the source of an input stream. The scheduler sets its value before each tick.
type InputOp struct {
	BaseOp
	schema zset.Schema
	data   *zset.ZSet
}

func NewInput(name string, schema zset.Schema) *InputOp {
	return &InputOp{BaseOp: NewBaseOp("input", name, 0), schema: schema, data: zset.New()}
}

func (n *InputOp) OpType() OperatorType { return OpTypeStructural }

func (n *InputOp) OutputSchema(_ []zset.Schema) (zset.Schema, error) { return n.schema, nil }

func (n *InputOp) SetData(data *zset.ZSet) {
	if data == nil {
		data = zset.New()
	}
	n.data = data
}

func (n *InputOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return n.data, nil
}

// ForwardOp passes its input through. It stands in for a stream that is defined later.
type ForwardOp struct {
	BaseOp
}

func NewForward(name string) *ForwardOp {
	return &ForwardOp{BaseOp: NewBaseOp("forward", name, 1)}
}

func (n *ForwardOp) OpType() OperatorType { return OpTypeStructural }

func (n *ForwardOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *ForwardOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0], nil
}

// PlusOp adds its inputs.
type PlusOp struct {
	BaseOp
}

// NewPlus creates an operator summing arity inputs.
func NewPlus(name string, arity int) *PlusOp {
	return &PlusOp{BaseOp: NewBaseOp("plus", name, arity)}
}

func (n *PlusOp) OpType() OperatorType { return OpTypeLinear }

func (n *PlusOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *PlusOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, in := range inputs {
		out.AddInPlace(in)
	}
	return out, nil
}

// MinusOp subtracts its second input from its first.
type MinusOp struct {
	BaseOp
}

func NewMinus(name string) *MinusOp {
	return &MinusOp{BaseOp: NewBaseOp("minus", name, 2)}
}

func (n *MinusOp) OpType() OperatorType { return OpTypeLinear }

func (n *MinusOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *MinusOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Subtract(inputs[1]), nil
}

// NegateOp flips every weight.
type NegateOp struct {
	BaseOp
}

func NewNegate(name string) *NegateOp {
	return &NegateOp{BaseOp: NewBaseOp("negate", name, 1)}
}

func (n *NegateOp) OpType() OperatorType { return OpTypeLinear }

func (n *NegateOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *NegateOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Negate(), nil
}

// DelayOp implements the z^(-1) operator: it emits the input of the previous tick, and the
// empty Z-set on the first tick.
type DelayOp struct {
	BaseOp
	buffer  *zset.ZSet // input of the previous tick
	latched *zset.ZSet // input of the current tick
}

func NewDelay(name string) *DelayOp {
	return &DelayOp{BaseOp: NewBaseOp("delay", name, 1), buffer: zset.New()}
}

var _ Strict = &DelayOp{}

func (n *DelayOp) OpType() OperatorType { return OpTypeStructural }

func (n *DelayOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *DelayOp) Output() *zset.ZSet { return n.buffer }

func (n *DelayOp) Latch(in *zset.ZSet) { n.latched = in }

// Eval returns the buffered value and latches the input.
func (n *DelayOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.Latch(inputs[0])
	return n.buffer, nil
}

func (n *DelayOp) Init(StateOptions) {}

func (n *DelayOp) Commit(trace.Time) {
	n.buffer = n.latched
	if n.buffer == nil {
		n.buffer = zset.New()
	}
	n.latched = nil
}

func (n *DelayOp) Abort() { n.latched = nil }

func (n *DelayOp) Reset() {
	n.buffer = zset.New()
	n.latched = nil
}

func (n *DelayOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	return saveZSet(ctx, store, id, n.buffer)
}

func (n *DelayOp) Restore(ctx context.Context, store storage.Store, id string) error {
	z, err := loadZSet(ctx, store, id)
	if err != nil {
		return err
	}
	n.buffer, n.latched = z, nil
	return nil
}

// IntegratorOp implements the I operator: converts deltas to snapshots
// I(s)[t] = Σ(i=0 to t) s[i]
type IntegratorOp struct {
	BaseOp
	state  *zset.ZSet
	staged *zset.ZSet
}

func NewIntegrator(name string) *IntegratorOp {
	return &IntegratorOp{BaseOp: NewBaseOp("integrate", name, 1), state: zset.New()}
}

func (n *IntegratorOp) OpType() OperatorType { return OpTypeLinear }

func (n *IntegratorOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *IntegratorOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	// state[t+1] = state[t] + delta[t]
	n.staged = n.state.Add(inputs[0])
	return n.staged, nil
}

func (n *IntegratorOp) Init(StateOptions) {}

func (n *IntegratorOp) Commit(trace.Time) {
	if n.staged != nil {
		n.state, n.staged = n.staged, nil
	}
}

func (n *IntegratorOp) Abort() { n.staged = nil }

func (n *IntegratorOp) Reset() {
	n.state, n.staged = zset.New(), nil
}

func (n *IntegratorOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	return saveZSet(ctx, store, id, n.state)
}

func (n *IntegratorOp) Restore(ctx context.Context, store storage.Store, id string) error {
	z, err := loadZSet(ctx, store, id)
	if err != nil {
		return err
	}
	n.state, n.staged = z, nil
	return nil
}

// DifferentiatorOp implements the D operator: converts snapshots to deltas
// D(s)[t] = s[t] - s[t-1]
type DifferentiatorOp struct {
	BaseOp
	prev   *zset.ZSet
	staged *zset.ZSet
}

func NewDifferentiator(name string) *DifferentiatorOp {
	return &DifferentiatorOp{BaseOp: NewBaseOp("differentiate", name, 1), prev: zset.New()}
}

func (n *DifferentiatorOp) OpType() OperatorType { return OpTypeLinear }

func (n *DifferentiatorOp) OutputSchema(inputs []zset.Schema) (zset.Schema, error) {
	return sameSchema(inputs)
}

func (n *DifferentiatorOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.staged = inputs[0]
	return inputs[0].Subtract(n.prev), nil
}

func (n *DifferentiatorOp) Init(StateOptions) {}

func (n *DifferentiatorOp) Commit(trace.Time) {
	if n.staged != nil {
		n.prev, n.staged = n.staged, nil
	}
}

func (n *DifferentiatorOp) Abort() { n.staged = nil }

func (n *DifferentiatorOp) Reset() {
	n.prev, n.staged = zset.New(), nil
}

func (n *DifferentiatorOp) Checkpoint(ctx context.Context, store storage.Store, id string) error {
	return saveZSet(ctx, store, id, n.prev)
}

func (n *DifferentiatorOp) Restore(ctx context.Context, store storage.Store, id string) error {
	z, err := loadZSet(ctx, store, id)
	if err != nil {
		return err
	}
	n.prev, n.staged = z, nil
	return nil
}

// ConstantOp emits a fixed Z-set as a change on its first tick and nothing afterwards, so the
// integral of its output is the constant relation.
type ConstantOp struct {
	BaseOp
	value   *zset.ZSet
	schema  zset.Schema
	emitted bool
	staged  bool
}

func NewConstant(name string, value *zset.ZSet, schema zset.Schema) *ConstantOp {
	return &ConstantOp{BaseOp: NewBaseOp("constant", name, 0), value: value, schema: schema}
}

func (n *ConstantOp) OpType() OperatorType { return OpTypeStructural }

func (n *ConstantOp) OutputSchema(_ []zset.Schema) (zset.Schema, error) {
	if err := n.value.Validate(n.schema); err != nil {
		return nil, err
	}
	return n.schema, nil
}

func (n *ConstantOp) Eval(_ *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	if n.emitted {
		return zset.New(), nil
	}
	n.staged = true
	return n.value, nil
}

func (n *ConstantOp) Init(StateOptions) {}

func (n *ConstantOp) Commit(trace.Time) {
	n.emitted = n.emitted || n.staged
	n.staged = false
}

func (n *ConstantOp) Abort() { n.staged = false }

func (n *ConstantOp) Reset() { n.emitted, n.staged = false, false }

func (n *ConstantOp) Checkpoint(_ context.Context, store storage.Store, id string) error {
	if err := store.DeleteRange(storage.OperatorPrefix(id)); err != nil {
		return err
	}
	flag := []byte{0}
	if n.emitted {
		flag[0] = 1
	}
	return store.Put(storage.MetaKey(id), flag)
}

func (n *ConstantOp) Restore(_ context.Context, store storage.Store, id string) error {
	flag, err := store.Get(storage.MetaKey(id))
	if err != nil {
		return err
	}
	n.emitted, n.staged = len(flag) == 1 && flag[0] == 1, false
	return nil
}
