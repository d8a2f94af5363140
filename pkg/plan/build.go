package plan

import (
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/l7mp/dbsp/pkg/dbsp"
	"github.com/l7mp/dbsp/pkg/util"
	"github.com/l7mp/dbsp/pkg/zset"
)

// scope maps the names visible to the nodes of a circuit to their streams.
type scope map[string]*dbsp.Stream

func (s scope) define(name string, stream *dbsp.Stream) error {
	if name == "" {
		return NewInvalidPlanError("empty stream name")
	}
	if _, ok := s[name]; ok {
		return NewInvalidPlanError("duplicate stream name %q", name)
	}
	s[name] = stream
	return nil
}

func (s scope) lookup(names []string) ([]*dbsp.Stream, error) {
	ret := make([]*dbsp.Stream, len(names))
	for i, name := range names {
		stream, ok := s[name]
		if !ok {
			return nil, NewInvalidPlanError("unknown stream %q", name)
		}
		ret[i] = stream
	}
	return ret, nil
}

type builder struct {
	log logr.Logger
}

// Build creates and freezes the circuit described by a plan.
func Build(p *Plan, opts dbsp.Options) (*dbsp.Circuit, error) {
	if p == nil {
		return nil, NewInvalidPlanError("nil plan")
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	b := &builder{log: opts.Logger.WithName("plan")}

	c := dbsp.NewCircuit(p.Name, opts)
	names := scope{}
	for _, in := range p.Inputs {
		schema, err := parseSchema(in.Schema)
		if err != nil {
			return nil, NewNodeError(in.Name, err)
		}
		if err := names.define(in.Name, c.Input(in.Name, schema)); err != nil {
			return nil, err
		}
	}

	if err := b.addNodes(c, names, p.Nodes); err != nil {
		return nil, err
	}

	if len(p.Outputs) == 0 {
		return nil, NewInvalidPlanError("plan %s has no outputs", p.Name)
	}
	for _, out := range p.Outputs {
		streams, err := names.lookup([]string{out.From})
		if err != nil {
			return nil, errors.Wrapf(err, "output %s", out.Name)
		}
		c.Output(out.Name, streams[0])
	}

	if err := c.Freeze(); err != nil {
		return nil, err
	}

	b.log.V(1).Info("circuit ready", "name", p.Name,
		"inputs", util.Map(func(in InputSpec) string { return in.Name }, p.Inputs),
		"outputs", util.Map(func(out OutputSpec) string { return out.Name }, p.Outputs))

	return c, nil
}

func (b *builder) addNodes(c *dbsp.Circuit, names scope, nodes []NodeSpec) error {
	for i := range nodes {
		spec := &nodes[i]
		inputs, err := names.lookup(spec.Inputs)
		if err != nil {
			return NewNodeError(spec.Name, err)
		}

		stream, err := b.addNode(c, spec, inputs)
		if err != nil {
			return NewNodeError(spec.Name, err)
		}

		if err := names.define(spec.Name, stream); err != nil {
			return err
		}

		b.log.V(2).Info("node added", "circuit", c.Name(), "name", spec.Name, "kind", spec.Kind,
			"inputs", spec.Inputs)
	}
	return nil
}

func (b *builder) addNode(c *dbsp.Circuit, spec *NodeSpec, inputs []*dbsp.Stream) (*dbsp.Stream, error) {
	var op dbsp.Operator
	switch spec.Kind {
	case "map":
		schema, err := b.exprSchema(spec)
		if err != nil {
			return nil, err
		}
		op = dbsp.NewMap(spec.Name, b.mapFunc(spec.Expression), schema)

	case "flatmap":
		schema, err := b.exprSchema(spec)
		if err != nil {
			return nil, err
		}
		op = dbsp.NewFlatMap(spec.Name, b.flatMapFunc(spec.Expression), schema)

	case "filter":
		if spec.Expression == nil {
			return nil, errors.New("filter requires an expression")
		}
		op = dbsp.NewFilter(spec.Name, b.predicate(spec.Expression))

	case "plus":
		op = dbsp.NewPlus(spec.Name, len(inputs))

	case "minus":
		op = dbsp.NewMinus(spec.Name)

	case "negate":
		op = dbsp.NewNegate(spec.Name)

	case "delay":
		op = dbsp.NewDelay(spec.Name)

	case "integrate":
		op = dbsp.NewIntegrator(spec.Name)

	case "differentiate":
		op = dbsp.NewDifferentiator(spec.Name)

	case "distinct":
		op = dbsp.NewDistinct(spec.Name)

	case "join":
		if len(spec.LeftKey) != len(spec.RightKey) {
			return nil, errors.Newf("join keys differ in length: %d vs %d", len(spec.LeftKey),
				len(spec.RightKey))
		}
		js := dbsp.JoinSpec{LeftKey: spec.LeftKey, RightKey: spec.RightKey}
		if spec.Expression != nil {
			schema, err := parseSchema(spec.Schema)
			if err != nil {
				return nil, err
			}
			js.Project = b.joinProjector(spec.Expression)
			js.Schema = schema
		}
		op = dbsp.NewJoin(spec.Name, js)

	case "aggregate":
		if len(spec.Aggregates) == 0 {
			return nil, errors.New("aggregate requires at least one aggregate function")
		}
		aggs := make([]dbsp.Aggregator, len(spec.Aggregates))
		for i, a := range spec.Aggregates {
			agg, err := newAggregator(a)
			if err != nil {
				return nil, err
			}
			aggs[i] = agg
		}
		op = dbsp.NewAggregate(spec.Name, spec.GroupBy, aggs...)

	case "topk":
		if spec.K <= 0 {
			return nil, errors.Newf("topk requires a positive k, got %d", spec.K)
		}
		op = dbsp.NewTopK(spec.Name, spec.GroupBy, spec.OrderBy, spec.K, spec.Descending)

	case "recursive":
		if spec.Body == nil {
			return nil, errors.New("recursive node requires a body")
		}
		return c.Nested(spec.Name, b.nestedBuilder(spec), inputs...), nil

	case "":
		return nil, errors.New("missing node kind")

	default:
		return nil, errors.Newf("unknown node kind %q", spec.Kind)
	}

	return c.AddOperator(op, inputs...), nil
}

// nestedBuilder builds the body of a recursive node. The imports are visible under the names
// of the node's inputs.
func (b *builder) nestedBuilder(spec *NodeSpec) dbsp.NestedBuilder {
	return func(child *dbsp.Circuit, imports ...*dbsp.Stream) (*dbsp.Stream, error) {
		names := scope{}
		for i, name := range spec.Inputs {
			if err := names.define(name, imports[i]); err != nil {
				return nil, err
			}
		}

		feedback := make([]*dbsp.Feedback, len(spec.Body.Feedback))
		for i, fb := range spec.Body.Feedback {
			feedback[i] = child.Feedback(fb.Name)
			if err := names.define(fb.Name, feedback[i].Stream()); err != nil {
				return nil, err
			}
		}

		if err := b.addNodes(child, names, spec.Body.Nodes); err != nil {
			return nil, err
		}

		for i, fb := range spec.Body.Feedback {
			from, err := names.lookup([]string{fb.From})
			if err != nil {
				return nil, errors.Wrapf(err, "feedback %s", fb.Name)
			}
			feedback[i].Connect(from[0])
		}

		export, err := names.lookup([]string{spec.Body.Export})
		if err != nil {
			return nil, errors.Wrap(err, "export")
		}
		return export[0], nil
	}
}

func (b *builder) exprSchema(spec *NodeSpec) (zset.Schema, error) {
	if spec.Expression == nil {
		return nil, errors.Newf("%s requires an expression", spec.Kind)
	}
	return parseSchema(spec.Schema)
}

// parseSchema converts a list of kind names to a schema. An empty list is the unknown schema.
func parseSchema(kinds []string) (zset.Schema, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	return zset.NewSchema(kinds...)
}

func newAggregator(a AggregateSpec) (dbsp.Aggregator, error) {
	switch a.Func {
	case "count":
		return dbsp.Count(), nil
	case "sum":
		return dbsp.Sum(a.Column), nil
	case "avg", "average":
		return dbsp.Average(a.Column), nil
	case "min":
		return dbsp.Min(a.Column), nil
	case "max":
		return dbsp.Max(a.Column), nil
	default:
		return nil, errors.Newf("unknown aggregate function %q", a.Func)
	}
}
