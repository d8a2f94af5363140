package dbsp

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dbsp/pkg/config"
	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/zset"
)

// closure builds the transitive closure of an edge relation as a nested circuit.
func closure(name string, cfg config.Config) *Circuit {
	c := NewCircuit(name, Options{Config: cfg})
	edges := c.Input("edges", intInt)
	c.Nested("closure", func(child *Circuit, imports ...*Stream) (*Stream, error) {
		e := imports[0]
		paths := child.Feedback("paths")
		extended := paths.Stream().Join("extend", e, JoinSpec{
			LeftKey:  []int{1},
			RightKey: []int{0},
			Project:  func(p, e zset.Tuple) (zset.Tuple, error) { return zset.T(p[0], e[1]), nil },
			Schema:   intInt,
		})
		all := extended.Plus("union", e).Distinct("reach")
		paths.Connect(all)
		return all, nil
	}, edges).Output("out")
	return c
}

var _ = Describe("Nested circuits", func() {
	It("should compute the transitive closure incrementally", func() {
		c := mustFreeze(closure("tc", config.Config{}))

		Expect(step(c, "edges", zs(row(1, 1, 2), row(1, 2, 3), row(1, 3, 4)))).To(equalZSet(zs(
			row(1, 1, 2), row(1, 1, 3), row(1, 1, 4), row(1, 2, 3), row(1, 2, 4), row(1, 3, 4))))

		By("extending the chain")
		Expect(step(c, "edges", zs(row(1, 4, 5)))).To(equalZSet(zs(
			row(1, 1, 5), row(1, 2, 5), row(1, 3, 5), row(1, 4, 5))))

		By("cutting the chain")
		Expect(step(c, "edges", zs(row(-1, 2, 3)))).To(equalZSet(zs(
			row(-1, 1, 3), row(-1, 1, 4), row(-1, 1, 5), row(-1, 2, 3), row(-1, 2, 4), row(-1, 2, 5))))

		By("changing nothing")
		Expect(step(c, "edges", nil).IsZero()).To(BeTrue())
	})

	It("should infer the schema of the export", func() {
		c := mustFreeze(closure("tc", config.Config{}))
		n, _ := c.OutputNode("out")
		Expect(n.Schema).To(Equal(intInt))
		nested, ok := n.Op.(*NestedOp)
		Expect(ok).To(BeTrue())
		Expect(nested.Circuit().Parent()).To(BeIdenticalTo(c))
		Expect(nested.Circuit().Imports()[0].Schema).To(Equal(intInt))
	})

	It("should handle cycles in the input graph", func() {
		c := mustFreeze(closure("tc", config.Config{}))
		Expect(step(c, "edges", zs(row(1, 1, 2), row(1, 2, 1)))).To(equalZSet(zs(
			row(1, 1, 1), row(1, 1, 2), row(1, 2, 1), row(1, 2, 2))))
	})

	It("should stop at the iteration ceiling", func() {
		chain := zs(row(1, 1, 2), row(1, 2, 3), row(1, 3, 4))

		// three edges need three productive iterations and a final empty one
		c := mustFreeze(closure("tc", config.Config{MaxIterations: 4}))
		_, err := c.Step(bg(), map[string]*zset.ZSet{"edges": chain})
		Expect(err).NotTo(HaveOccurred())

		c = mustFreeze(closure("tc", config.Config{MaxIterations: 3}))
		_, err = c.Step(bg(), map[string]*zset.ZSet{"edges": chain})
		Expect(err).To(matchErr(ErrNotConverged))
		Expect(c.State()).To(Equal(StateRunning))
	})

	It("should report a divergent loop", func() {
		c := NewCircuit("counter", Options{Config: config.Config{MaxIterations: 50}})
		seed := c.Input("seed", zset.Schema{zset.KindInt})
		c.Nested("count", func(child *Circuit, imports ...*Stream) (*Stream, error) {
			fb := child.Feedback("next")
			inc := fb.Stream().Map("inc", func(t zset.Tuple) (zset.Tuple, error) {
				return zset.T(t[0].(int64) + 1), nil
			}, zset.Schema{zset.KindInt})
			all := inc.Plus("all", imports[0])
			fb.Connect(all)
			return all, nil
		}, seed).Output("out")
		mustFreeze(c)

		_, err := c.Step(bg(), map[string]*zset.ZSet{"seed": zs(row(1, 0))})
		Expect(err).To(matchErr(ErrNotConverged))
	})

	It("should reject a cycle without a delay inside a nested circuit", func() {
		c := NewCircuit("bad", Options{})
		in := c.Input("in", intInt)
		c.Nested("loop", func(child *Circuit, imports ...*Stream) (*Stream, error) {
			f := child.Forward("f")
			sum := imports[0].Plus("p", f.Stream())
			f.Bind(sum)
			return sum, nil
		}, in).Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject inputs and outputs inside a nested circuit", func() {
		c := NewCircuit("bad", Options{})
		in := c.Input("in", intInt)
		c.Nested("inner", func(child *Circuit, imports ...*Stream) (*Stream, error) {
			return child.Input("x", intInt), nil
		}, in)
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should checkpoint and restore the nested state", func() {
		store := storage.NewMemStore()
		c := mustFreeze(closure("tc", config.Config{}))
		step(c, "edges", zs(row(1, 1, 2), row(1, 2, 3)))
		Expect(c.Checkpoint(bg(), store)).To(Succeed())

		restored := mustFreeze(closure("tc", config.Config{}))
		Expect(restored.Restore(bg(), store)).To(Succeed())
		Expect(step(restored, "edges", zs(row(1, 3, 4)))).To(equalZSet(step(c, "edges", zs(row(1, 3, 4)))))
	})
})
