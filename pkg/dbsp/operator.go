package dbsp

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// OperatorType classifies operators by how they behave under incrementalization.
type OperatorType int

const (
	OpTypeLinear     OperatorType = iota // Op^Δ = Op
	OpTypeBilinear                       // Op^Δ needs expansion (like joins)
	OpTypeNonLinear                      // Op^Δ needs a trace (like distinct)
	OpTypeStructural                     // Graph structure (inputs, delays, nested circuits)
)

func (t OperatorType) String() string {
	switch t {
	case OpTypeLinear:
		return "linear"
	case OpTypeBilinear:
		return "bilinear"
	case OpTypeNonLinear:
		return "nonlinear"
	case OpTypeStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// EvalContext is passed to operators on every evaluation.
type EvalContext struct {
	context.Context
	// Time is the logical time of the evaluation: the tick of a top-level circuit, the
	// iteration inside a nested circuit.
	Time trace.Time
	// Logger is scoped to the operator's node.
	Logger logr.Logger
	// circuit is the circuit running the evaluation.
	circuit *Circuit
}

// Operator is a node of a circuit: it consumes the changes of its inputs in the current tick
// and produces the change of its output.
type Operator interface {
	// Name is a human-readable description of the operator.
	Name() string
	// Kind is the short operator kind, e.g., "join".
	Kind() string
	// Arity is the number of inputs.
	Arity() int
	OpType() OperatorType
	// Eval computes the output change. Inputs are never nil and must not be modified.
	Eval(ctx *EvalContext, inputs ...*zset.ZSet) (*zset.ZSet, error)
}

// StateOptions configures the state of a stateful operator.
type StateOptions struct {
	// Trace configures the spines of the operator.
	Trace trace.Options
	// Retention is the number of ticks of time-resolved history kept in the spines.
	Retention trace.Time
}

// Stateful operators keep state across ticks. The state changes of an evaluation are staged
// and become visible only on Commit; Abort discards them.
type Stateful interface {
	Operator
	// Init is called once when the circuit is frozen.
	Init(opts StateOptions)
	// Commit applies the staged changes of the tick t.
	Commit(t trace.Time)
	// Abort discards the staged changes.
	Abort()
	// Reset drops all state.
	Reset()
	// Checkpoint writes the committed state to a store under the given id.
	Checkpoint(ctx context.Context, store storage.Store, id string) error
	// Restore replaces the state with a checkpoint.
	Restore(ctx context.Context, store storage.Store, id string) error
}

// Strict operators produce their output before their input is known. The scheduler evaluates
// them at the start of the tick and feeds the input in at the end, so the input edge of a
// strict operator is not a scheduling dependency and may close a cycle.
type Strict interface {
	Stateful
	// Output returns the output of the current tick.
	Output() *zset.ZSet
	// Latch stages the input of the current tick.
	Latch(in *zset.ZSet)
}

// SchemaInferrer is implemented by operators that can compute their output schema from the
// schemas of their inputs. A nil input schema is unknown.
type SchemaInferrer interface {
	OutputSchema(inputs []zset.Schema) (zset.Schema, error)
}

// BaseOp is embedded by operators to provide naming and input validation.
type BaseOp struct {
	arity int
	name  string
	kind  string
}

func NewBaseOp(kind, name string, arity int) BaseOp {
	if name == "" {
		name = kind
	}
	return BaseOp{arity: arity, name: name, kind: kind}
}

func (n *BaseOp) Name() string { return n.name }
func (n *BaseOp) Kind() string { return n.kind }
func (n *BaseOp) Arity() int   { return n.arity }

func (n *BaseOp) validateInputs(inputs []*zset.ZSet) error {
	if len(inputs) != n.arity {
		return NewArityError(n.name, n.arity, len(inputs))
	}
	return nil
}

// sameSchema is the output schema of operators that do not change the shape of their input.
func sameSchema(inputs []zset.Schema) (zset.Schema, error) {
	var ret zset.Schema
	for _, s := range inputs {
		u, err := ret.Unify(s)
		if err != nil {
			return nil, err
		}
		ret = u
	}
	return ret, nil
}
