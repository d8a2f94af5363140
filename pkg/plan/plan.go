// Package plan builds circuits from declarative, serializable plans.
//
// A plan lists the input streams of a circuit, a sequence of nodes that each consume earlier
// streams, and the outputs. Row-level logic (map projections, filter predicates, join
// projectors) is given in the expression language of package expression. Recursive queries
// are expressed with a "recursive" node whose body is iterated to a fixed point; the body
// refers to its imports by the names of the node's inputs and closes loops with feedback
// edges.
//
//	name: reachability
//	inputs:
//	  - name: edges
//	    schema: [string, string]
//	nodes:
//	  - name: closure
//	    kind: recursive
//	    inputs: [edges]
//	    body:
//	      feedback:
//	        - name: paths
//	          from: reach
//	      nodes:
//	        - name: step
//	          kind: join
//	          inputs: [paths, edges]
//	          leftKey: [1]
//	          rightKey: [0]
//	          expression: {"@tuple": [{"@col": 0}, {"@col": 3}]}
//	          schema: [string, string]
//	        - name: all
//	          kind: plus
//	          inputs: [edges, step]
//	        - name: reach
//	          kind: distinct
//	          inputs: [all]
//	      export: reach
//	outputs:
//	  - name: reachable
//	    from: closure
package plan

import (
	"os"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/dbsp/pkg/expression"
)

// Plan is a serialized circuit.
type Plan struct {
	// Name is the name of the circuit.
	Name string `json:"name"`
	// Inputs are the input streams.
	Inputs []InputSpec `json:"inputs"`
	// Nodes are the operators, in dependency order.
	Nodes []NodeSpec `json:"nodes"`
	// Outputs name the streams returned by each tick.
	Outputs []OutputSpec `json:"outputs"`
}

// InputSpec declares an input stream.
type InputSpec struct {
	Name string `json:"name"`
	// Schema is the list of column kinds (any, null, bool, int, float, string). Empty means
	// unknown.
	Schema []string `json:"schema,omitempty"`
}

// OutputSpec exports a stream.
type OutputSpec struct {
	Name string `json:"name"`
	From string `json:"from"`
}

// NodeSpec is an operator of the plan. Only the fields relevant for the kind are used.
type NodeSpec struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Inputs []string `json:"inputs,omitempty"`

	// Expression is the row function of map, flatmap and filter nodes, and the projector of
	// join nodes. Expressions see the columns of the input row; join projectors see the left
	// row followed by the right row.
	Expression *expression.Expression `json:"expression,omitempty"`
	// Schema is the output schema of map, flatmap and projected join nodes.
	Schema []string `json:"schema,omitempty"`

	// LeftKey and RightKey are the key columns of a join.
	LeftKey  []int `json:"leftKey,omitempty"`
	RightKey []int `json:"rightKey,omitempty"`

	// GroupBy are the grouping columns of aggregate and topk nodes.
	GroupBy    []int           `json:"groupBy,omitempty"`
	Aggregates []AggregateSpec `json:"aggregates,omitempty"`

	OrderBy    []int `json:"orderBy,omitempty"`
	K          int   `json:"k,omitempty"`
	Descending bool  `json:"descending,omitempty"`

	// Body is the nested circuit of a recursive node.
	Body *BodySpec `json:"body,omitempty"`
}

// AggregateSpec is an aggregate function over a column: count, sum, avg, min or max. Count
// ignores the column.
type AggregateSpec struct {
	Func   string `json:"func"`
	Column int    `json:"column,omitempty"`
}

// BodySpec is the body of a recursive node.
type BodySpec struct {
	Feedback []FeedbackSpec `json:"feedback,omitempty"`
	Nodes    []NodeSpec     `json:"nodes"`
	// Export names the stream returned to the parent.
	Export string `json:"export"`
}

// FeedbackSpec declares a feedback stream that carries the value of From in the previous
// iteration.
type FeedbackSpec struct {
	Name string `json:"name"`
	From string `json:"from"`
}

// Parse parses a YAML or JSON plan. Unknown fields are rejected.
func Parse(data []byte) (*Plan, error) {
	p := &Plan{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to parse plan"), ErrInvalidPlan)
	}
	return p, nil
}

// Load reads a plan from a file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan %s", path)
	}
	return Parse(data)
}
