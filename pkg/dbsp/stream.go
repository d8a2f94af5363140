package dbsp

import "github.com/l7mp/dbsp/pkg/zset"

// The stream helpers add an operator consuming s to the circuit of s. An empty name selects
// the operator kind as the name.

func (s *Stream) apply(op Operator, others ...*Stream) *Stream {
	return s.circuit.AddOperator(op, append([]*Stream{s}, others...)...)
}

// Map applies fn to every row. A nil schema leaves the output schema unknown.
func (s *Stream) Map(name string, fn MapFunc, schema zset.Schema) *Stream {
	return s.apply(NewMap(name, fn, schema))
}

// FlatMap replaces every row with the rows returned by fn.
func (s *Stream) FlatMap(name string, fn FlatMapFunc, schema zset.Schema) *Stream {
	return s.apply(NewFlatMap(name, fn, schema))
}

// Filter keeps the rows satisfying pred.
func (s *Stream) Filter(name string, pred Predicate) *Stream {
	return s.apply(NewFilter(name, pred))
}

// Plus adds the stream and others.
func (s *Stream) Plus(name string, others ...*Stream) *Stream {
	return s.apply(NewPlus(name, len(others)+1), others...)
}

// Minus subtracts other from the stream.
func (s *Stream) Minus(name string, other *Stream) *Stream {
	return s.apply(NewMinus(name), other)
}

func (s *Stream) Negate(name string) *Stream { return s.apply(NewNegate(name)) }

// Delay shifts the stream by one tick.
func (s *Stream) Delay(name string) *Stream { return s.apply(NewDelay(name)) }

// Integrate sums the stream over all ticks so far.
func (s *Stream) Integrate(name string) *Stream { return s.apply(NewIntegrator(name)) }

// Differentiate emits the difference between consecutive values of the stream.
func (s *Stream) Differentiate(name string) *Stream { return s.apply(NewDifferentiator(name)) }

// Distinct emits the changes of the set of rows with positive accumulated weight.
func (s *Stream) Distinct(name string) *Stream { return s.apply(NewDistinct(name)) }

// Join joins the stream with other on equal keys.
func (s *Stream) Join(name string, other *Stream, spec JoinSpec) *Stream {
	return s.apply(NewJoin(name, spec), other)
}

// Aggregate groups the accumulated stream by the groupBy columns and aggregates every group.
func (s *Stream) Aggregate(name string, groupBy []int, aggs ...Aggregator) *Stream {
	return s.apply(NewAggregate(name, groupBy, aggs...))
}

// TopK keeps the k first rows of every group of the accumulated stream.
func (s *Stream) TopK(name string, groupBy, orderBy []int, k int, descending bool) *Stream {
	return s.apply(NewTopK(name, groupBy, orderBy, k, descending))
}

// Output marks the stream as a named output of its circuit.
func (s *Stream) Output(name string) { s.circuit.Output(name, s) }
