package dbsp

import (
	"math"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dbsp/pkg/zset"
)

var _ = Describe("Linear operators", func() {
	It("should filter changes", func() {
		c := NewCircuit("filter", Options{})
		c.Input("people", strInt).
			Filter("adults", func(t zset.Tuple) (bool, error) { return t[1].(int64) >= 18, nil }).
			Output("out")
		mustFreeze(c)

		Expect(step(c, "people", zs(row(1, "alice", 30), row(1, "bob", 10)))).
			To(equalZSet(zs(row(1, "alice", 30))))
		Expect(step(c, "people", zs(row(-1, "alice", 30)))).To(equalZSet(zs(row(-1, "alice", 30))))
		Expect(step(c, "people", nil).IsZero()).To(BeTrue())
	})

	It("should map and merge duplicates", func() {
		c := NewCircuit("map", Options{})
		c.Input("people", strInt).
			Map("age", func(t zset.Tuple) (zset.Tuple, error) { return zset.T(t[1]), nil },
				zset.Schema{zset.KindInt}).
			Output("out")
		mustFreeze(c)

		Expect(step(c, "people", zs(row(1, "alice", 30), row(2, "bob", 30), row(1, "carol", 20)))).
			To(equalZSet(zs(row(3, 30), row(1, 20))))
	})

	It("should flat-map rows", func() {
		c := NewCircuit("flatmap", Options{})
		c.Input("words", strString).
			FlatMap("split", func(t zset.Tuple) ([]zset.Tuple, error) {
				return []zset.Tuple{zset.T(t[0]), zset.T(t[1])}, nil
			}, zset.Schema{zset.KindString}).
			Output("out")
		mustFreeze(c)

		Expect(step(c, "words", zs(row(2, "a", "b"), row(-1, "b", "c")))).
			To(equalZSet(zs(row(2, "a"), row(1, "b"), row(-1, "c"))))
	})

	It("should add, subtract and negate streams", func() {
		c := NewCircuit("arith", Options{})
		a := c.Input("a", intInt)
		b := c.Input("b", intInt)
		a.Plus("sum", b).Minus("diff", b.Negate("neg")).Output("out")
		mustFreeze(c)

		out, err := c.Step(bg(), map[string]*zset.ZSet{
			"a": zs(row(1, 1, 1)),
			"b": zs(row(1, 2, 2)),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(1, 1, 1), row(2, 2, 2))))
	})

	It("should report function errors as data errors", func() {
		c := NewCircuit("failing", Options{})
		c.Input("in", intInt).
			Map("boom", func(zset.Tuple) (zset.Tuple, error) { return nil, errors.New("boom") }, nil).
			Output("out")
		mustFreeze(c)

		_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 1, 1))})
		Expect(err).To(matchErr(ErrData))
		var oerr *OperatorError
		Expect(errors.As(err, &oerr)).To(BeTrue())
		Expect(oerr.Node).To(Equal("boom"))
		Expect(oerr.Kind).To(Equal("map"))
	})

	It("should validate map output against the declared schema", func() {
		c := NewCircuit("badmap", Options{})
		c.Input("in", intInt).
			Map("str", func(t zset.Tuple) (zset.Tuple, error) { return t, nil }, strString).
			Output("out")
		mustFreeze(c)

		_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 1, 1))})
		Expect(err).To(matchErr(ErrData))
		Expect(errors.Is(err, zset.ErrSchemaMismatch)).To(BeTrue())
	})
})

var _ = Describe("Structural operators", func() {
	It("should delay a stream by one tick", func() {
		c := NewCircuit("delay", Options{})
		c.Input("in", intInt).Delay("z").Output("out")
		mustFreeze(c)

		Expect(step(c, "in", zs(row(1, 1, 1))).IsZero()).To(BeTrue())
		Expect(step(c, "in", zs(row(1, 2, 2)))).To(equalZSet(zs(row(1, 1, 1))))
		Expect(step(c, "in", nil)).To(equalZSet(zs(row(1, 2, 2))))
		Expect(step(c, "in", nil).IsZero()).To(BeTrue())
	})

	It("should integrate and differentiate", func() {
		c := NewCircuit("integrate", Options{})
		in := c.Input("in", intInt)
		integral := in.Integrate("I")
		integral.Output("out")
		integral.Differentiate("D").Output("delta")
		mustFreeze(c)

		for _, delta := range []*zset.ZSet{zs(row(1, 1, 1)), zs(row(1, 2, 2)), zs(row(-1, 1, 1))} {
			out, err := c.Step(bg(), map[string]*zset.ZSet{"in": delta})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["delta"]).To(equalZSet(delta))
		}
		Expect(step(c, "in", nil)).To(equalZSet(zs(row(1, 2, 2))))
	})

	It("should emit a constant once", func() {
		c := NewCircuit("constant", Options{})
		c.AddOperator(NewConstant("k", zs(row(1, 7, 7)), intInt)).Output("out")
		c.Input("in", intInt)
		mustFreeze(c)

		Expect(step(c, "in", nil)).To(equalZSet(zs(row(1, 7, 7))))
		Expect(step(c, "in", nil).IsZero()).To(BeTrue())
	})
})

var _ = Describe("Distinct", func() {
	It("should track the positive support of the accumulated input", func() {
		c := NewCircuit("distinct", Options{})
		c.Input("in", intInt).Distinct("d").Output("out")
		mustFreeze(c)

		Expect(step(c, "in", zs(row(2, 1, 1)))).To(equalZSet(zs(row(1, 1, 1))))
		Expect(step(c, "in", zs(row(-1, 1, 1))).IsZero()).To(BeTrue())
		Expect(step(c, "in", zs(row(-1, 1, 1)))).To(equalZSet(zs(row(-1, 1, 1))))
		Expect(step(c, "in", zs(row(-1, 2, 2))).IsZero()).To(BeTrue())
		Expect(step(c, "in", zs(row(2, 2, 2)))).To(equalZSet(zs(row(1, 2, 2))))
	})

	It("should be idempotent", func() {
		c := NewCircuit("distinct2", Options{})
		in := c.Input("in", intInt)
		in.Distinct("once").Output("out")
		in.Distinct("d1").Distinct("d2").Output("twice")
		mustFreeze(c)

		for _, delta := range []*zset.ZSet{
			zs(row(3, 1, 1), row(1, 2, 2)),
			zs(row(-3, 1, 1), row(-2, 2, 2)),
			zs(row(1, 1, 1), row(3, 2, 2)),
		} {
			out, err := c.Step(bg(), map[string]*zset.ZSet{"in": delta})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["twice"]).To(equalZSet(out["out"]))
		}
	})
})

var _ = Describe("Join", func() {
	var c *Circuit

	BeforeEach(func() {
		c = NewCircuit("join", Options{})
		users := c.Input("users", strInt)
		depts := c.Input("depts", zset.Schema{zset.KindInt, zset.KindString})
		users.Join("by-dept", depts, JoinSpec{LeftKey: []int{1}, RightKey: []int{0}}).Output("out")
		mustFreeze(c)
	})

	It("should infer the output schema", func() {
		n, ok := c.OutputNode("out")
		Expect(ok).To(BeTrue())
		Expect(n.Schema).To(Equal(zset.Schema{zset.KindInt, zset.KindString, zset.KindString}))
	})

	It("should join changes of both sides", func() {
		out, err := c.Step(bg(), map[string]*zset.ZSet{
			"users": zs(row(1, "alice", 1), row(1, "bob", 2)),
			"depts": zs(row(1, 1, "eng")),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(1, 1, "alice", "eng"))))

		out, err = c.Step(bg(), map[string]*zset.ZSet{"depts": zs(row(1, 2, "ops"), row(1, 1, "dev"))})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(1, 2, "bob", "ops"), row(1, 1, "alice", "dev"))))

		out, err = c.Step(bg(), map[string]*zset.ZSet{"users": zs(row(-1, "alice", 1))})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(-1, 1, "alice", "eng"), row(-1, 1, "alice", "dev"))))
	})

	It("should multiply weights", func() {
		out, err := c.Step(bg(), map[string]*zset.ZSet{
			"users": zs(row(2, "alice", 1)),
			"depts": zs(row(3, 1, "eng")),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(6, 1, "alice", "eng"))))

		out, err = c.Step(bg(), map[string]*zset.ZSet{
			"users": zs(row(-1, "alice", 1)),
			"depts": zs(row(-1, 1, "eng")),
		})
		Expect(err).NotTo(HaveOccurred())
		// (2-1)*(3-1) - 2*3 = -4
		Expect(out["out"]).To(equalZSet(zs(row(-4, 1, "alice", "eng"))))
	})

	It("should use a custom projector", func() {
		c := NewCircuit("project", Options{})
		l := c.Input("l", intInt)
		r := c.Input("r", intInt)
		l.Join("pairs", r, JoinSpec{
			LeftKey:  []int{1},
			RightKey: []int{0},
			Project:  func(a, b zset.Tuple) (zset.Tuple, error) { return zset.T(a[0], b[1]), nil },
			Schema:   intInt,
		}).Output("out")
		mustFreeze(c)

		out, err := c.Step(bg(), map[string]*zset.ZSet{
			"l": zs(row(1, 1, 2)),
			"r": zs(row(1, 2, 3), row(1, 2, 4)),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(1, 1, 3), row(1, 1, 4))))
	})
})

var _ = Describe("Aggregate", func() {
	It("should maintain per-group aggregates", func() {
		c := NewCircuit("agg", Options{})
		c.Input("in", strInt).Aggregate("stats", []int{0}, Count(), Sum(1), Min(1), Max(1)).Output("out")
		mustFreeze(c)

		n, _ := c.OutputNode("out")
		Expect(n.Schema).To(Equal(zset.Schema{zset.KindString, zset.KindInt, zset.KindInt, zset.KindInt,
			zset.KindInt}))

		Expect(step(c, "in", zs(row(1, "x", 1), row(1, "x", 5), row(1, "y", 3)))).
			To(equalZSet(zs(row(1, "x", 2, 6, 1, 5), row(1, "y", 1, 3, 3, 3))))

		By("retracting the minimum")
		Expect(step(c, "in", zs(row(-1, "x", 1)))).
			To(equalZSet(zs(row(-1, "x", 2, 6, 1, 5), row(1, "x", 1, 5, 5, 5))))

		By("emptying a group")
		Expect(step(c, "in", zs(row(-1, "y", 3)))).To(equalZSet(zs(row(-1, "y", 1, 3, 3, 3))))

		By("changing nothing")
		Expect(step(c, "in", zs(row(1, "z", 1), row(-1, "z", 1))).IsZero()).To(BeTrue())
	})

	It("should average and fold", func() {
		concat := Fold("concat", "", zset.KindString, func(acc any, t zset.Tuple, w zset.Weight) (any, error) {
			return acc.(string) + t[1].(string), nil
		})
		c := NewCircuit("fold", Options{})
		nums := c.Input("nums", strInt)
		nums.Aggregate("avg", []int{0}, Average(1)).Output("out")
		c.Input("words", strString).Aggregate("concat", []int{0}, concat).Output("words")
		mustFreeze(c)

		out, err := c.Step(bg(), map[string]*zset.ZSet{
			"nums":  zs(row(1, "a", 1), row(3, "a", 3)),
			"words": zs(row(1, "k", "b"), row(1, "k", "a")),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["out"]).To(equalZSet(zs(row(1, "a", 2.5))))
		Expect(out["words"]).To(equalZSet(zs(row(1, "k", "ab"))))
	})

	It("should aggregate the whole input without group columns", func() {
		c := NewCircuit("total", Options{})
		c.Input("in", strInt).Aggregate("total", nil, Sum(1)).Output("out")
		mustFreeze(c)

		Expect(step(c, "in", zs(row(1, "a", 1), row(1, "b", 2)))).To(equalZSet(zs(row(1, 3))))
		Expect(step(c, "in", zs(row(1, "c", 3)))).To(equalZSet(zs(row(-1, 3), row(1, 6))))
	})

	It("should sum through int64 overflow of partial sums", func() {
		c := NewCircuit("wide", Options{})
		c.Input("in", strInt).Aggregate("total", nil, Sum(1)).Output("out")
		mustFreeze(c)

		Expect(step(c, "in", zs(row(1, "a", int64(math.MaxInt64)), row(1, "b", 1), row(1, "c", -2)))).
			To(equalZSet(zs(row(1, int64(math.MaxInt64-1)))))
	})

	It("should fail the tick when a sum overflows", func() {
		c := NewCircuit("overflow", Options{})
		c.Input("in", strInt).Aggregate("total", nil, Sum(1)).Output("out")
		mustFreeze(c)

		_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(2, "a", int64(math.MaxInt64)))})
		Expect(err).To(matchErr(ErrData))
		Expect(err.Error()).To(ContainSubstring("overflows int64"))
		Expect(c.State()).To(Equal(StateRunning))

		Expect(step(c, "in", zs(row(1, "b", 1)))).To(equalZSet(zs(row(1, 1))))
	})

	It("should reject aggregates without aggregators", func() {
		c := NewCircuit("noagg", Options{})
		c.Input("in", strInt).Aggregate("none", []int{0}).Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject sums of strings", func() {
		c := NewCircuit("badsum", Options{})
		c.Input("in", strInt).Aggregate("sum", nil, Sum(0)).Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})
})

var _ = Describe("TopK", func() {
	It("should keep the k largest rows of every group", func() {
		c := NewCircuit("topk", Options{})
		c.Input("scores", strInt).TopK("top2", []int{0}, []int{1}, 2, true).Output("out")
		mustFreeze(c)

		Expect(step(c, "scores", zs(row(1, "a", 1), row(1, "a", 5), row(1, "a", 3), row(1, "b", 1)))).
			To(equalZSet(zs(row(1, "a", 5), row(1, "a", 3), row(1, "b", 1))))
		Expect(step(c, "scores", zs(row(1, "a", 4)))).To(equalZSet(zs(row(-1, "a", 3), row(1, "a", 4))))
		Expect(step(c, "scores", zs(row(-1, "a", 5)))).To(equalZSet(zs(row(-1, "a", 5), row(1, "a", 3))))
		Expect(step(c, "scores", zs(row(1, "a", 0))).IsZero()).To(BeTrue())
	})

	It("should reject a non-positive k", func() {
		c := NewCircuit("topk0", Options{})
		c.Input("scores", strInt).TopK("none", nil, []int{1}, 0, false).Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})
})
