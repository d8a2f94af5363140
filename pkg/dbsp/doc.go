// Package dbsp implements Database Stream Processing (DBSP) circuits for incremental computation
// on Z-sets (multisets with integer multiplicities). See the theory in
// https://mihaibudiu.github.io/work/dbsp-spec.pdf.
//
// A circuit is a graph of operators over streams of changes. Every tick the caller feeds the
// changes of the inputs and gets back the changes of the outputs, so that the integral of an
// output equals the query evaluated on the integral of the inputs.
//
// Operator types:
//   - Linear: map, filter, flat-map, plus, minus, negate. They are their own incremental
//     version.
//   - Bilinear: join. The incremental join combines the change of each side with the trace of
//     the other side.
//   - Nonlinear: distinct, aggregate, top-k. They keep a trace of their input and recompute the
//     groups touched by a change.
//   - Structural: inputs, delays, forward references and nested circuits.
//
// Recursive queries are expressed with nested circuits: the body of a nested circuit is iterated
// to a fixed point in every tick, with feedback edges guarded by a delay.
//
// Example usage:
//
//	c := dbsp.NewCircuit("adults", dbsp.Options{})
//	people := c.Input("people", zset.Schema{zset.KindString, zset.KindInt})
//	people.Filter("adult", func(t zset.Tuple) (bool, error) { return t[1].(int64) >= 18, nil }).
//		Output("adults")
//	if err := c.Freeze(); err != nil { ... }
//	out, err := c.Step(ctx, map[string]*zset.ZSet{"people": zset.Of(zset.Entry{Tuple: zset.T("alice", 42), Weight: 1})})
package dbsp
