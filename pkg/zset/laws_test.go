package zset

import (
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"
)

// genZSet generates small Z-sets over a narrow domain so that operands overlap often.
func genZSet() gopter.Gen {
	entry := gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.OneConstOf("a", "b"),
		gen.Int64Range(-3, 3),
	).Map(func(vs []interface{}) Entry {
		return Entry{Tuple: T(vs[0].(int), vs[1].(string)), Weight: vs[2].(int64)}
	})
	return gen.SliceOf(entry).Map(func(es []Entry) *ZSet { return Of(es...) })
}

func checkProperties(props *gopter.Properties) {
	GinkgoHelper()
	Expect(props.Run(gopter.NewFormatedReporter(false, 80, GinkgoWriter))).To(BeTrue())
}

var _ = Describe("Group laws", func() {
	It("should hold for random Z-sets", func() {
		params := gopter.DefaultTestParameters()
		params.Rng.Seed(1234)
		params.MinSuccessfulTests = 200
		props := gopter.NewProperties(params)

		props.Property("associativity", prop.ForAll(
			func(a, b, c *ZSet) bool { return a.Add(b.Add(c)).Equal(a.Add(b).Add(c)) },
			genZSet(), genZSet(), genZSet(),
		))
		props.Property("commutativity", prop.ForAll(
			func(a, b *ZSet) bool { return a.Add(b).Equal(b.Add(a)) },
			genZSet(), genZSet(),
		))
		props.Property("identity", prop.ForAll(
			func(a *ZSet) bool { return a.Add(New()).Equal(a) },
			genZSet(),
		))
		props.Property("inverse", prop.ForAll(
			func(a *ZSet) bool { return a.Add(a.Negate()).IsZero() },
			genZSet(),
		))
		props.Property("no zero weights", prop.ForAll(
			func(a, b *ZSet) bool {
				for _, e := range a.Add(b).Entries() {
					if e.Weight == 0 {
						return false
					}
				}
				return true
			},
			genZSet(), genZSet(),
		))
		props.Property("distinct is idempotent", prop.ForAll(
			func(a *ZSet) bool { return a.Distinct().Distinct().Equal(a.Distinct()) },
			genZSet(),
		))

		checkProperties(props)
	})
})
