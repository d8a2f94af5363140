package visualize

import "github.com/l7mp/dbsp/pkg/dbsp"

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

// Generate creates a Graphviz DOT diagram from the graph.
func (d *DotGenerator) Generate(g *Graph) string {
	dotGraph := BuildDotGraph(g)
	return dotGraph.String()
}

// Dot renders a circuit in Graphviz DOT format.
func Dot(c *dbsp.Circuit) string {
	return (&DotGenerator{}).Generate(BuildGraph(c))
}
