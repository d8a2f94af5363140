package dbsp

import (
	"context"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dbsp/pkg/zset"
)

// genDelta generates small changes over a narrow domain so that keys collide often.
func genDelta() gopter.Gen {
	entry := gopter.CombineGens(gen.Int64Range(0, 2), gen.Int64Range(0, 2), gen.Int64Range(-2, 2)).
		Map(func(vs []interface{}) zset.Entry {
			return zset.Entry{Tuple: zset.T(vs[0], vs[1]), Weight: vs[2].(int64)}
		})
	return gen.SliceOfN(4, entry).Map(func(es []zset.Entry) *zset.ZSet { return zset.Of(es...) })
}

// tick holds the changes of the two inputs of the query in one tick.
type tick struct{ a, b *zset.ZSet }

// genTicks generates a sequence of ticks.
func genTicks() gopter.Gen {
	return gen.SliceOfN(5, gopter.CombineGens(genDelta(), genDelta()).
		Map(func(vs []interface{}) tick { return tick{a: vs[0].(*zset.ZSet), b: vs[1].(*zset.ZSet)} }))
}

// query builds a circuit exercising every incremental operator.
func query() *Circuit {
	c := NewCircuit("query", Options{})
	a := c.Input("a", intInt)
	b := c.Input("b", intInt)
	joined := a.Join("j", b, JoinSpec{LeftKey: []int{1}, RightKey: []int{0}})
	joined.Output("join")
	joined.Distinct("d").Aggregate("agg", []int{0}, Count(), Max(2)).Output("agg")
	a.Plus("u", b).TopK("top", []int{0}, []int{1}, 2, true).Output("top")
	return mustFreeze(c)
}

// replay feeds every tick to the query and returns the integral of every output.
func replay(ticks []tick) map[string]*zset.ZSet {
	c := query()
	acc := map[string]*zset.ZSet{}
	for _, t := range ticks {
		out, err := c.Step(context.Background(), map[string]*zset.ZSet{"a": t.a, "b": t.b})
		Expect(err).NotTo(HaveOccurred())
		for name, z := range out {
			if acc[name] == nil {
				acc[name] = zset.New()
			}
			acc[name].AddInPlace(z)
		}
	}
	return acc
}

// integrate sums the inputs of all ticks into a single tick.
func integrate(ticks []tick) tick {
	ret := tick{a: zset.New(), b: zset.New()}
	for _, t := range ticks {
		ret.a.AddInPlace(t.a)
		ret.b.AddInPlace(t.b)
	}
	return ret
}

// bruteJoin is the nested-loop join of two Z-sets with the default join projection.
func bruteJoin(a, b *zset.ZSet) *zset.ZSet {
	out := zset.New()
	for _, x := range a.Entries() {
		for _, y := range b.Entries() {
			if zset.CompareValues(x.Tuple[1], y.Tuple[0]) == 0 {
				_ = out.Insert(zset.T(x.Tuple[1], x.Tuple[0], y.Tuple[1]), x.Weight*y.Weight)
			}
		}
	}
	return out
}

func sameOutputs(a, b map[string]*zset.ZSet) bool {
	for _, name := range []string{"join", "agg", "top"} {
		if !a[name].Equal(b[name]) {
			return false
		}
	}
	return true
}

var _ = Describe("Incremental evaluation", func() {
	It("should match evaluation on the integrated input", func() {
		params := gopter.DefaultTestParameters()
		params.Rng.Seed(7)
		params.MinSuccessfulTests = 50
		props := gopter.NewProperties(params)

		props.Property("integral of outputs equals output of integral", prop.ForAll(
			func(ticks []tick) bool {
				return sameOutputs(replay(ticks), replay([]tick{integrate(ticks)}))
			},
			genTicks(),
		))
		props.Property("join is bilinear", prop.ForAll(
			func(ticks []tick) bool {
				total := integrate(ticks)
				return replay(ticks)["join"].Equal(bruteJoin(total.a, total.b))
			},
			genTicks(),
		))

		Expect(props.Run(gopter.NewFormatedReporter(false, 80, GinkgoWriter))).To(BeTrue())
	})
})
