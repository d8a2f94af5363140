package dbsp

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/l7mp/dbsp/internal/dag"
	"github.com/l7mp/dbsp/pkg/config"
	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

const tracerName = "github.com/l7mp/dbsp/pkg/dbsp"

// State is the lifecycle state of a circuit.
type State int

const (
	// StateUninitialized circuits are under construction.
	StateUninitialized State = iota
	// StateRunning circuits are frozen and accept ticks.
	StateRunning
	// StatePoisoned circuits failed in a way that left their state unusable. They must be
	// restored from a checkpoint.
	StatePoisoned
	// StateClosed circuits are shut down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StatePoisoned:
		return "poisoned"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a circuit.
type Options struct {
	// Config holds the tunables. Zero fields take their defaults.
	Config config.Config
	// Logger is the base logger. Defaults to a discarding logger.
	Logger logr.Logger
	// Registerer registers the circuit's metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// TracerProvider creates the spans of ticks. Defaults to the global provider.
	TracerProvider oteltrace.TracerProvider
}

// Node is an operator instance in a circuit.
type Node struct {
	// ID is the position of the node in construction order.
	ID int
	// Name is unique within the circuit.
	Name string
	Op   Operator
	// Inputs are the producers of the node's inputs, in argument order.
	Inputs []*Node
	// Schema is the output schema inferred when the circuit is frozen, nil if unknown.
	Schema zset.Schema
}

// IsStrict reports whether the node produces its output before consuming its input.
func (n *Node) IsStrict() bool {
	_, ok := n.Op.(Strict)
	return ok
}

func (n *Node) String() string { return fmt.Sprintf("%s[%s]", n.Name, n.Op.Kind()) }

// Stream is the output of a node, used to wire it into other nodes.
type Stream struct {
	circuit *Circuit
	node    *Node
}

// Node returns the producer of the stream, nil for streams of failed builder calls.
func (s *Stream) Node() *Node { return s.node }

// Schema returns the schema of the stream. It is known after the circuit is frozen.
func (s *Stream) Schema() zset.Schema {
	if s.node == nil {
		return nil
	}
	return s.node.Schema
}

// Circuit is a graph of operators evaluated tick by tick. Circuits are built with the builder
// methods, frozen with Freeze and then driven with Step. Builder errors are sticky: the first
// one is reported by Freeze.
type Circuit struct {
	name   string
	cfg    config.Config
	log    logr.Logger
	parent *Circuit

	nodes   []*Node
	byName  map[string]*Node
	inputs  []*Node
	outputs []output
	imports []*Node // nested circuits only
	export  *Node   // nested circuits only
	err     error

	levels   [][]*Node
	strict   []*Node
	stateful []*Node

	mu      sync.Mutex
	state   State
	clock   trace.Time
	metrics *Metrics
	tracer  oteltrace.Tracer
}

type output struct {
	name string
	node *Node
}

// NewCircuit creates an empty circuit.
func NewCircuit(name string, opts Options) *Circuit {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Circuit{
		name:    name,
		cfg:     opts.Config.Normalize(),
		log:     log.WithName(name),
		byName:  map[string]*Node{},
		metrics: NewMetrics(opts.Registerer),
		tracer:  tp.Tracer(tracerName),
	}
}

func (c *Circuit) newChild(name string) *Circuit {
	return &Circuit{
		name:    name,
		cfg:     c.cfg,
		log:     c.log.WithName(name),
		parent:  c,
		byName:  map[string]*Node{},
		metrics: c.metrics,
		tracer:  c.tracer,
	}
}

// Name returns the name of the circuit.
func (c *Circuit) Name() string { return c.name }

// Config returns the effective configuration.
func (c *Circuit) Config() config.Config { return c.cfg }

// Parent returns the enclosing circuit of a nested circuit, nil for top-level circuits.
func (c *Circuit) Parent() *Circuit { return c.parent }

// Err returns the first builder error.
func (c *Circuit) Err() error { return c.err }

// Nodes returns the nodes in construction order.
func (c *Circuit) Nodes() []*Node { return append([]*Node(nil), c.nodes...) }

// Node returns a node by name.
func (c *Circuit) Node(name string) (*Node, bool) {
	n, ok := c.byName[name]
	return n, ok
}

// Inputs returns the names of the input streams.
func (c *Circuit) Inputs() []string {
	ret := make([]string, len(c.inputs))
	for i, n := range c.inputs {
		ret[i] = n.Name
	}
	return ret
}

// Outputs returns the names of the output streams.
func (c *Circuit) Outputs() []string {
	ret := make([]string, len(c.outputs))
	for i, o := range c.outputs {
		ret[i] = o.name
	}
	return ret
}

// OutputNode returns the node producing a named output.
func (c *Circuit) OutputNode(name string) (*Node, bool) {
	for _, o := range c.outputs {
		if o.name == name {
			return o.node, true
		}
	}
	return nil, false
}

// Imports returns the import nodes of a nested circuit.
func (c *Circuit) Imports() []*Node { return append([]*Node(nil), c.imports...) }

// Export returns the node whose output a nested circuit yields to its parent.
func (c *Circuit) Export() *Node { return c.export }

// Levels returns the evaluation schedule: nodes on the same level are independent.
func (c *Circuit) Levels() [][]*Node { return c.levels }

// State returns the lifecycle state.
func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Clock returns the number of completed ticks.
func (c *Circuit) Clock() trace.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

func (c *Circuit) fail(err error) *Stream {
	if c.err == nil {
		c.err = err
	}
	return &Stream{circuit: c}
}

func (c *Circuit) addNode(op Operator, inputs []*Node) *Node {
	id := len(c.nodes)
	name := op.Name()
	if _, ok := c.byName[name]; ok || name == "" {
		name = fmt.Sprintf("%s_%d", op.Name(), id)
	}
	n := &Node{ID: id, Name: name, Op: op, Inputs: inputs}
	c.nodes = append(c.nodes, n)
	c.byName[name] = n
	return n
}

func (c *Circuit) checkBuilding() error {
	if c.state != StateUninitialized {
		return NewConstructionError("circuit %s: cannot modify a frozen circuit", c.name)
	}
	return nil
}

func (c *Circuit) resolve(streams []*Stream) ([]*Node, error) {
	nodes := make([]*Node, len(streams))
	for i, s := range streams {
		switch {
		case s == nil || s.node == nil:
			return nil, NewConstructionError("circuit %s: input %d is not a valid stream", c.name, i)
		case s.circuit != c:
			return nil, NewConstructionError("circuit %s: stream %s belongs to circuit %s", c.name,
				s.node.Name, s.circuit.name)
		}
		nodes[i] = s.node
	}
	return nodes, nil
}

// Input adds an input stream. Nested circuits take their inputs from the parent instead.
func (c *Circuit) Input(name string, schema zset.Schema) *Stream {
	if err := c.checkBuilding(); err != nil {
		return c.fail(err)
	}
	if c.parent != nil {
		return c.fail(NewConstructionError("nested circuit %s: inputs are imported from the parent", c.name))
	}
	if _, ok := c.byName[name]; ok || name == "" {
		return c.fail(NewConstructionError("circuit %s: invalid or duplicate input name %q", c.name, name))
	}
	n := c.addNode(NewInput(name, schema), nil)
	c.inputs = append(c.inputs, n)
	return &Stream{circuit: c, node: n}
}

// AddOperator adds an operator consuming the given streams.
func (c *Circuit) AddOperator(op Operator, inputs ...*Stream) *Stream {
	if err := c.checkBuilding(); err != nil {
		return c.fail(err)
	}
	if op.Arity() != len(inputs) {
		return c.fail(NewArityError(op.Name(), op.Arity(), len(inputs)))
	}
	nodes, err := c.resolve(inputs)
	if err != nil {
		return c.fail(err)
	}
	return &Stream{circuit: c, node: c.addNode(op, nodes)}
}

// Output marks a stream as a named output of the circuit.
func (c *Circuit) Output(name string, s *Stream) {
	if err := c.checkBuilding(); err != nil {
		c.fail(err)
		return
	}
	if c.parent != nil {
		c.fail(NewConstructionError("nested circuit %s: outputs are exported to the parent", c.name))
		return
	}
	if _, ok := c.OutputNode(name); ok || name == "" {
		c.fail(NewConstructionError("circuit %s: invalid or duplicate output name %q", c.name, name))
		return
	}
	nodes, err := c.resolve([]*Stream{s})
	if err != nil {
		c.fail(err)
		return
	}
	c.outputs = append(c.outputs, output{name: name, node: nodes[0]})
}

// Forward is a reference to a stream that is defined later.
type Forward struct {
	circuit *Circuit
	node    *Node
}

// Forward creates a forward reference. Binding it to a stream that depends on it closes a
// cycle, which is a construction error unless the cycle passes through a delay inside a nested
// circuit.
func (c *Circuit) Forward(name string) *Forward {
	if err := c.checkBuilding(); err != nil {
		c.fail(err)
		return &Forward{circuit: c}
	}
	return &Forward{circuit: c, node: c.addNode(NewForward(name), []*Node{nil})}
}

// Stream returns the stream of the forward reference.
func (f *Forward) Stream() *Stream { return &Stream{circuit: f.circuit, node: f.node} }

// Bind defines the referenced stream.
func (f *Forward) Bind(s *Stream) { f.circuit.bind(f.node, s) }

func (c *Circuit) bind(n *Node, s *Stream) {
	if err := c.checkBuilding(); err != nil {
		c.fail(err)
		return
	}
	if n == nil {
		c.fail(NewConstructionError("circuit %s: binding an invalid reference", c.name))
		return
	}
	if n.Inputs[0] != nil {
		c.fail(NewConstructionError("circuit %s: %s is already bound", c.name, n.Name))
		return
	}
	nodes, err := c.resolve([]*Stream{s})
	if err != nil {
		c.fail(err)
		return
	}
	n.Inputs[0] = nodes[0]
}

// Feedback is a delay-guarded back edge inside a nested circuit. Its stream carries the value
// connected to it in the previous iteration, and the empty Z-set in the first one.
type Feedback struct {
	circuit *Circuit
	node    *Node
}

// Feedback creates a feedback edge. Feedback is only allowed inside nested circuits.
func (c *Circuit) Feedback(name string) *Feedback {
	if err := c.checkBuilding(); err != nil {
		c.fail(err)
		return &Feedback{circuit: c}
	}
	if c.parent == nil {
		c.fail(NewConstructionError("circuit %s: feedback is only allowed inside nested circuits", c.name))
		return &Feedback{circuit: c}
	}
	return &Feedback{circuit: c, node: c.addNode(NewDelay(name), []*Node{nil})}
}

// Stream returns the delayed stream.
func (f *Feedback) Stream() *Stream { return &Stream{circuit: f.circuit, node: f.node} }

// Connect closes the loop: the value of s in an iteration is fed back in the next one.
func (f *Feedback) Connect(s *Stream) { f.circuit.bind(f.node, s) }

// NestedBuilder builds the body of a nested circuit from its imports and returns the exported
// stream.
type NestedBuilder func(child *Circuit, imports ...*Stream) (*Stream, error)

// Nested adds a nested circuit that is iterated to a fixed point in every tick. Each tick the
// body sees the accumulated imports as a single change in its first iteration, and the parent
// receives the change of the accumulated export.
func (c *Circuit) Nested(name string, build NestedBuilder, imports ...*Stream) *Stream {
	if err := c.checkBuilding(); err != nil {
		return c.fail(err)
	}
	nodes, err := c.resolve(imports)
	if err != nil {
		return c.fail(err)
	}
	child := c.newChild(name)
	importStreams := make([]*Stream, len(imports))
	for i := range imports {
		n := child.addNode(NewInput(fmt.Sprintf("import_%d", i), nil), nil)
		child.imports = append(child.imports, n)
		importStreams[i] = &Stream{circuit: child, node: n}
	}
	export, err := build(child, importStreams...)
	if err == nil {
		err = child.Err()
	}
	if err == nil {
		var exports []*Node
		if exports, err = child.resolve([]*Stream{export}); err == nil {
			child.export = exports[0]
		}
	}
	if err != nil {
		return c.fail(errors.Mark(errors.Wrapf(err, "nested circuit %s", name), ErrConstruction))
	}
	return &Stream{circuit: c, node: c.addNode(newNestedOp(name, child), nodes)}
}

// Freeze validates the circuit and computes its schedule. A frozen circuit is running.
func (c *Circuit) Freeze() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parent != nil {
		return NewConstructionError("nested circuit %s is frozen with its parent", c.name)
	}
	if c.state != StateUninitialized {
		return NewConstructionError("circuit %s is already frozen", c.name)
	}
	if err := c.cfg.Validate(); err != nil {
		return errors.Mark(err, ErrConstruction)
	}
	if err := c.prepare(); err != nil {
		return err
	}
	if err := c.inferSchemas(); err != nil {
		return err
	}
	c.initState()
	c.state = StateRunning
	c.log.V(1).Info("circuit frozen", "nodes", len(c.nodes), "levels", len(c.levels))
	return nil
}

// prepare validates the structure and computes the schedule of the circuit and of every
// nested circuit.
func (c *Circuit) prepare() error {
	if c.err != nil {
		return c.err
	}
	for _, n := range c.nodes {
		for i, in := range n.Inputs {
			if in == nil {
				return NewConstructionError("circuit %s: input %d of %s is never bound", c.name, i, n.Name)
			}
		}
		if nested, ok := n.Op.(*NestedOp); ok {
			if err := nested.child.prepare(); err != nil {
				return err
			}
		}
	}

	sched, full := dag.New(), dag.New()
	for _, n := range c.nodes {
		sched.AddNode(n.Name)
		full.AddNode(n.Name)
	}
	c.strict, c.stateful = nil, nil
	for _, n := range c.nodes {
		for _, in := range n.Inputs {
			full.AddEdge(in.Name, n.Name)
			if !n.IsStrict() {
				sched.AddEdge(in.Name, n.Name)
			}
		}
		if n.IsStrict() {
			c.strict = append(c.strict, n)
		}
		if _, ok := n.Op.(Stateful); ok {
			c.stateful = append(c.stateful, n)
		}
	}

	if c.parent == nil {
		if _, err := full.TopoLevels(); err != nil {
			return errors.Mark(errors.Wrapf(err, "circuit %s: feedback is only allowed inside nested circuits",
				c.name), ErrConstruction)
		}
	}
	levels, err := sched.TopoLevels()
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "circuit %s: cycle without a delay", c.name), ErrConstruction)
	}
	c.levels = make([][]*Node, len(levels))
	for i, l := range levels {
		for _, name := range l {
			c.levels[i] = append(c.levels[i], c.byName[name])
		}
	}
	return nil
}

// inferSchemas computes the output schema of every node in schedule order. The schemas of
// strict nodes depend on nodes scheduled after them, so a second pass propagates those.
func (c *Circuit) inferSchemas() error {
	for _, n := range c.strict {
		n.Schema = nil
	}
	for pass := 0; pass < 2; pass++ {
		for _, level := range c.levels {
			for _, n := range level {
				if n.IsStrict() {
					continue
				}
				if err := c.inferSchema(n); err != nil {
					return err
				}
			}
		}
		for _, n := range c.strict {
			if n.Schema != nil && !n.Schema.Compatible(n.Inputs[0].Schema) {
				return errors.Mark(errors.Newf("circuit %s: %s carries %s but its input is %s",
					c.name, n.Name, n.Schema, n.Inputs[0].Schema), ErrConstruction)
			}
			n.Schema = n.Inputs[0].Schema
		}
	}
	return nil
}

func (c *Circuit) inferSchema(n *Node) error {
	si, ok := n.Op.(SchemaInferrer)
	if !ok {
		n.Schema = nil
		return nil
	}
	ins := make([]zset.Schema, len(n.Inputs))
	for i, in := range n.Inputs {
		ins[i] = in.Schema
	}
	s, err := si.OutputSchema(ins)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "circuit %s: node %s", c.name, n.Name), ErrConstruction)
	}
	n.Schema = s
	return nil
}

func (c *Circuit) initState() {
	for _, n := range c.stateful {
		n.Op.(Stateful).Init(StateOptions{
			Trace: trace.Options{
				GrowthFactor: c.cfg.SpineGrowthFactor,
				Logger:       c.log.WithName(n.Name),
			},
			Retention: c.cfg.TraceRetention,
		})
		if nested, ok := n.Op.(*NestedOp); ok {
			nested.child.initState()
			nested.child.state = StateRunning
		}
	}
}
