package dbsp

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dbsp/pkg/config"
	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/zset"
)

// pipeline is a circuit with every kind of stateful operator.
func pipeline(cfg config.Config) *Circuit {
	c := NewCircuit("pipeline", Options{Config: cfg})
	l := c.Input("l", intInt)
	r := c.Input("r", intInt)
	l.Join("j", r, JoinSpec{LeftKey: []int{1}, RightKey: []int{0}}).
		Distinct("d").
		Aggregate("cnt", []int{0}, Count()).
		Output("out")
	l.TopK("top", []int{0}, []int{1}, 1, false).Output("top")
	l.Delay("z").Output("delayed")
	l.Integrate("I").Output("integral")
	c.AddOperator(NewConstant("k", zs(row(1, 0, 0)), intInt)).Output("constant")
	return mustFreeze(c)
}

var pipelineTicks = []map[string]*zset.ZSet{
	{"l": zs(row(1, 1, 10), row(1, 2, 20)), "r": zs(row(1, 10, 100))},
	{"l": zs(row(1, 3, 10)), "r": zs(row(1, 20, 200), row(1, 10, 101))},
	{"l": zs(row(-1, 1, 10), row(1, 1, 5)), "r": zs(row(-1, 10, 100))},
	{"r": zs(row(1, 5, 1))},
}

func runTicks(c *Circuit, ticks []map[string]*zset.ZSet) []map[string]*zset.ZSet {
	GinkgoHelper()
	ret := []map[string]*zset.ZSet{}
	for _, in := range ticks {
		out, err := c.Step(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		ret = append(ret, out)
	}
	return ret
}

func expectSameOutputs(a, b []map[string]*zset.ZSet) {
	GinkgoHelper()
	Expect(a).To(HaveLen(len(b)))
	for i := range a {
		Expect(a[i]).To(HaveLen(len(b[i])))
		for name, z := range a[i] {
			Expect(z).To(equalZSet(b[i][name]), "tick %d output %s", i, name)
		}
	}
}

var _ = Describe("Checkpointing", func() {
	DescribeTable("should resume from a checkpoint",
		func(open func() storage.Store, cfg config.Config) {
			store := open()
			defer store.Close() //nolint:errcheck

			c := pipeline(cfg)
			runTicks(c, pipelineTicks[:2])
			Expect(c.Checkpoint(bg(), store)).To(Succeed())
			expected := runTicks(c, pipelineTicks[2:])

			restored := pipeline(cfg)
			Expect(restored.Restore(bg(), store)).To(Succeed())
			Expect(restored.Clock()).To(BeNumerically("==", 2))
			expectSameOutputs(runTicks(restored, pipelineTicks[2:]), expected)
		},
		Entry("in memory", func() storage.Store { return storage.NewMemStore() }, config.Config{}),
		Entry("in memory with retention", func() storage.Store { return storage.NewMemStore() },
			config.Config{TraceRetention: 8}),
		Entry("in pebble", func() storage.Store {
			s, err := storage.OpenPebble("", false)
			Expect(err).NotTo(HaveOccurred())
			return s
		}, config.Config{}),
		Entry("in badger", func() storage.Store {
			s, err := storage.OpenBadger("", false, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())
			return s
		}, config.Config{SpineGrowthFactor: 4}),
	)

	It("should compact the traces before writing", func() {
		c := NewCircuit("compact", Options{})
		c.Input("in", intInt).Distinct("d").Output("out")
		mustFreeze(c)
		runTicks(c, []map[string]*zset.ZSet{
			{"in": zs(row(1, 1, 1))},
			{"in": zs(row(1, 2, 2))},
			{"in": zs(row(1, 3, 3))},
		})

		n, ok := c.Node("d")
		Expect(ok).To(BeTrue())
		spine := n.Op.(*DistinctOp).trace.spine
		Expect(spine.NumBatches()).To(Equal(2))

		store := storage.NewMemStore()
		Expect(c.Checkpoint(bg(), store)).To(Succeed())
		Expect(spine.NumBatches()).To(Equal(1))
		Expect(spine.Len()).To(Equal(3))

		restored := NewCircuit("compact", Options{})
		restored.Input("in", intInt).Distinct("d").Output("out")
		mustFreeze(restored)
		Expect(restored.Restore(bg(), store)).To(Succeed())
		in := map[string]*zset.ZSet{"in": zs(row(1, 2, 2), row(1, 4, 4))}
		expectSameOutputs(runTicks(restored, []map[string]*zset.ZSet{in}),
			runTicks(c, []map[string]*zset.ZSet{in}))
	})

	It("should replace an older checkpoint", func() {
		store := storage.NewMemStore()
		c := pipeline(config.Config{})
		runTicks(c, pipelineTicks[:1])
		Expect(c.Checkpoint(bg(), store)).To(Succeed())
		runTicks(c, pipelineTicks[1:2])
		Expect(c.Checkpoint(bg(), store)).To(Succeed())

		restored := pipeline(config.Config{})
		Expect(restored.Restore(bg(), store)).To(Succeed())
		Expect(restored.Clock()).To(BeNumerically("==", 2))
		expectSameOutputs(runTicks(restored, pipelineTicks[2:]), runTicks(c, pipelineTicks[2:]))
	})

	It("should poison the circuit when there is nothing to restore", func() {
		c := pipeline(config.Config{})
		err := c.Restore(bg(), storage.NewMemStore())
		Expect(err).To(matchErr(ErrPersistence))
		Expect(err).To(matchErr(storage.ErrNotFound))
		Expect(c.State()).To(Equal(StatePoisoned))
		_, err = c.Step(bg(), nil)
		Expect(err).To(matchErr(ErrPoisoned))
	})

	It("should refuse a checkpoint of a different circuit", func() {
		store := storage.NewMemStore()
		c := NewCircuit("pipeline", Options{})
		c.Input("l", intInt).Distinct("d").Output("out")
		mustFreeze(c)
		Expect(c.Checkpoint(bg(), store)).To(Succeed())

		Expect(pipeline(config.Config{}).Restore(bg(), store)).To(matchErr(ErrPersistence))
	})

	It("should fail on a closed store", func() {
		store := storage.NewMemStore()
		Expect(store.Close()).To(Succeed())
		c := pipeline(config.Config{})
		Expect(c.Checkpoint(bg(), store)).To(matchErr(ErrPersistence))
		Expect(c.State()).To(Equal(StateRunning))
	})
})
