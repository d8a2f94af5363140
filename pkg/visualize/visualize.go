// Package visualize renders circuits as diagrams.
package visualize

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"

	"github.com/l7mp/dbsp/pkg/dbsp"
	"github.com/l7mp/dbsp/pkg/zset"
)

// Node roles.
const (
	RoleInput    = "input"
	RoleOutput   = "output"
	RoleImport   = "import"
	RoleOperator = "operator"
	RoleDelay    = "delay"
	RoleNested   = "nested"
)

// Graph represents the visualization graph of a circuit. Nested circuits are flattened into
// the same graph; their nodes carry the path of the enclosing cluster.
type Graph struct {
	Name     string
	Clusters []Cluster
	Nodes    []Node
	Edges    []Edge
}

// Cluster is a nested circuit.
type Cluster struct {
	// Path is the slash-separated path of the nested circuit below the top-level circuit.
	Path string
	Name string
	// Parent is the path of the enclosing cluster, empty for the top level.
	Parent string
}

// Node is an operator of the circuit or one of its nested circuits.
type Node struct {
	ID      string
	Name    string
	Kind    string
	Role    string
	Schema  string
	Cluster string
}

// Edge connects two nodes. Feedback edges point into a delay and close a loop.
type Edge struct {
	From, To string
	Label    string
	Feedback bool
	// Nested edges connect a nested operator with the imports and the export of its body.
	Nested bool
}

// BuildGraph constructs a visualization graph from a circuit. The circuit need not be frozen,
// but schemas are only known after Freeze.
func BuildGraph(c *dbsp.Circuit) *Graph {
	g := &Graph{Name: c.Name()}
	g.addCircuit(c, "")

	for _, name := range c.Outputs() {
		n, ok := c.OutputNode(name)
		if !ok {
			continue
		}
		id := "output/" + name
		g.Nodes = append(g.Nodes, Node{ID: id, Name: name, Kind: "output", Role: RoleOutput, Schema: n.Schema.String()})
		g.Edges = append(g.Edges, Edge{From: nodeID("", n), To: id})
	}

	return g
}

func nodeID(cluster string, n *dbsp.Node) string {
	if cluster == "" {
		return n.Name
	}
	return cluster + "/" + n.Name
}

func (g *Graph) addCircuit(c *dbsp.Circuit, cluster string) {
	imports := map[*dbsp.Node]bool{}
	for _, n := range c.Imports() {
		imports[n] = true
	}

	for _, n := range c.Nodes() {
		node := Node{
			ID:      nodeID(cluster, n),
			Name:    n.Name,
			Kind:    n.Op.Kind(),
			Role:    RoleOperator,
			Schema:  n.Schema.String(),
			Cluster: cluster,
		}
		switch {
		case imports[n]:
			node.Role = RoleImport
		case n.Op.Kind() == "input":
			node.Role = RoleInput
		case n.IsStrict():
			node.Role = RoleDelay
		}

		for i, in := range n.Inputs {
			if in == nil {
				continue
			}
			g.Edges = append(g.Edges, Edge{
				From:     nodeID(cluster, in),
				To:       node.ID,
				Label:    edgeLabel(n, i),
				Feedback: n.IsStrict(),
			})
		}

		if nested, ok := n.Op.(*dbsp.NestedOp); ok {
			node.Role = RoleNested
			g.addNested(nested.Circuit(), node.ID, cluster, n)
		}

		g.Nodes = append(g.Nodes, node)
	}
}

func (g *Graph) addNested(child *dbsp.Circuit, path, parent string, owner *dbsp.Node) {
	g.Clusters = append(g.Clusters, Cluster{Path: path, Name: child.Name(), Parent: parent})
	g.addCircuit(child, path)

	for i, imp := range child.Imports() {
		if i < len(owner.Inputs) && owner.Inputs[i] != nil {
			g.Edges = append(g.Edges, Edge{From: nodeID(parent, owner.Inputs[i]), To: nodeID(path, imp), Nested: true})
		}
	}
	if export := child.Export(); export != nil {
		g.Edges = append(g.Edges, Edge{From: nodeID(path, export), To: path, Nested: true})
	}
}

// edgeLabel names the inputs of operators that are not symmetric in their arguments.
func edgeLabel(n *dbsp.Node, i int) string {
	switch n.Op.Kind() {
	case "minus":
		return []string{"+", "-"}[i]
	case "join":
		return []string{"left", "right"}[i]
	}
	return ""
}

// FindNode returns the node with the given ID.
func (g *Graph) FindNode(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// FormatNode formats the label of a node for display.
func FormatNode(n Node) string {
	label := n.Name
	if n.Role == RoleOperator || n.Role == RoleDelay || n.Role == RoleNested {
		label = fmt.Sprintf("%s: %s", n.Name, n.Kind)
	}
	if n.Schema != "" && n.Schema != zset.Schema(nil).String() {
		label += " " + n.Schema
	}
	return strings.TrimSpace(label)
}

// BuildDotGraph creates a Graphviz styled dot.Graph from the visualization graph. Use
// BuildMermaidGraph for Mermaid output: the Mermaid writer expects its own shape and style
// attributes.
func BuildDotGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")    // Left to right layout.
	graph.Attr("compound", "true") // Allow edges between clusters.
	graph.Attr("newrank", "true")  // Better ranking algorithm.
	graph.Attr("label", g.Name)
	graph.Attr("labelloc", "t") // Label at top.
	graph.Attr("fontsize", "16")

	// Clusters are listed parent first.
	clusters := map[string]*dot.Graph{"": graph}
	for _, c := range g.Clusters {
		parent, ok := clusters[c.Parent]
		if !ok {
			parent = graph
		}
		sub := parent.Subgraph(c.Path, dot.ClusterOption{})
		sub.Attr("label", c.Name)
		sub.Attr("style", "rounded")
		sub.Attr("color", "darkblue")
		clusters[c.Path] = sub
	}

	nodes := make(map[string]dot.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		parent, ok := clusters[n.Cluster]
		if !ok {
			parent = graph
		}
		node := parent.Node(n.ID).
			Attr("label", FormatNode(n)).
			Attr("fontname", "helvetica")

		switch n.Role {
		case RoleInput, RoleImport:
			node.Attr("shape", "ellipse").
				Attr("style", "filled").
				Attr("fillcolor", "lightgreen")
		case RoleOutput:
			node.Attr("shape", "ellipse").
				Attr("style", "filled").
				Attr("fillcolor", "lightyellow")
		case RoleDelay:
			node.Attr("shape", "box").
				Attr("style", "filled").
				Attr("fillcolor", "lightgrey")
		case RoleNested:
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightcyan").
				Attr("color", "darkblue").
				Attr("penwidth", "2")
		default:
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightblue").
				Attr("color", "darkblue")
		}
		nodes[n.ID] = node
	}

	for _, e := range g.Edges {
		from, fromExists := nodes[e.From]
		to, toExists := nodes[e.To]
		if !fromExists || !toExists {
			continue
		}

		edge := graph.Edge(from, to).
			Attr("fontname", "helvetica").
			Attr("fontsize", "10")
		if e.Label != "" {
			edge.Attr("label", e.Label)
		}
		switch {
		case e.Feedback:
			edge.Attr("style", "dashed").Attr("color", "red")
		case e.Nested:
			edge.Attr("style", "dotted").Attr("color", "blue")
		}
	}

	return graph
}
