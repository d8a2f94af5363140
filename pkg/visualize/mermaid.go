package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/dbsp/pkg/dbsp"
)

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct {
	// TopDown lays the flowchart out top to bottom instead of left to right.
	TopDown bool
}

// Generate creates a Mermaid flowchart from the graph, wrapped in a markdown code block.
func (m *MermaidGenerator) Generate(g *Graph) string {
	orientation := dot.MermaidLeftToRight
	if m.TopDown {
		orientation = dot.MermaidTopDown
	}
	return fmt.Sprintf("```mermaid\n%s\n```\n", dot.MermaidFlowchart(BuildMermaidGraph(g), orientation))
}

// Mermaid renders a circuit as a left-to-right Mermaid flowchart.
func Mermaid(c *dbsp.Circuit) string {
	return (&MermaidGenerator{}).Generate(BuildGraph(c))
}

type mermaidStyle struct {
	shape any
	fill  string
}

var mermaidStyles = map[string]mermaidStyle{
	RoleInput:    {dot.MermaidShapeStadium, "fill:#90EE90"},
	RoleImport:   {dot.MermaidShapeStadium, "fill:#90EE90"},
	RoleOutput:   {dot.MermaidShapeStadium, "fill:#FFFFE0"},
	RoleDelay:    {dot.MermaidShapeCylinder, "fill:#D3D3D3"},
	RoleNested:   {dot.MermaidShapeSubroutine, "fill:#E0FFFF,stroke:#00008B,stroke-width:2px"},
	RoleOperator: {dot.MermaidShapeRound, "fill:#ADD8E6,stroke:#00008B"},
}

// BuildMermaidGraph creates a dot.Graph carrying Mermaid shapes and styles. Mermaid flowcharts
// are written without subgraphs, so nodes of nested circuits are placed at the top level and
// labelled with their cluster path.
func BuildMermaidGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)

	nodes := make(map[string]dot.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		label := FormatNode(n)
		if n.Cluster != "" {
			label = n.Cluster + "/" + label
		}
		node := graph.Node(n.ID).Attr("label", label)
		style, ok := mermaidStyles[n.Role]
		if !ok {
			style = mermaidStyles[RoleOperator]
		}
		node.Attr("shape", style.shape).Attr("style", style.fill)
		nodes[n.ID] = node
	}

	for _, e := range g.Edges {
		from, fromExists := nodes[e.From]
		to, toExists := nodes[e.To]
		if !fromExists || !toExists {
			continue
		}
		edge := graph.Edge(from, to)
		switch {
		case e.Label != "":
			edge.Attr("label", e.Label)
		case e.Feedback:
			edge.Attr("label", "feedback")
		}
	}

	return graph
}
