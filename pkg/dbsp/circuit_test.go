package dbsp

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/l7mp/dbsp/internal/dag"
	"github.com/l7mp/dbsp/pkg/config"
	"github.com/l7mp/dbsp/pkg/util"
	"github.com/l7mp/dbsp/pkg/storage"
	"github.com/l7mp/dbsp/pkg/zset"
)

var _ = Describe("Circuit construction", func() {
	var (
		c  *Circuit
		in *Stream
	)

	BeforeEach(func() {
		c = NewCircuit("test", Options{})
		in = c.Input("in", intInt)
	})

	It("should schedule independent nodes on the same level", func() {
		a := in.Filter("a", func(zset.Tuple) (bool, error) { return true, nil })
		b := in.Negate("b")
		a.Plus("sum", b).Output("out")
		mustFreeze(c)

		names := [][]string{}
		for _, level := range c.Levels() {
			l := []string{}
			for _, n := range level {
				l = append(l, n.Name)
			}
			names = append(names, l)
		}
		Expect(names).To(Equal([][]string{{"in"}, {"a", "b"}, {"sum"}}))
		Expect(c.State()).To(Equal(StateRunning))
	})

	It("should make node names unique", func() {
		in.Distinct("").Output("x")
		in.Distinct("").Output("y")
		mustFreeze(c)

		x, _ := c.OutputNode("x")
		y, _ := c.OutputNode("y")
		Expect(x.Name).To(Equal("distinct"))
		Expect(y.Name).To(Equal("distinct_2"))
	})

	It("should resolve forward references", func() {
		f := c.Forward("later")
		f.Stream().Distinct("d").Output("out")
		f.Bind(in)
		mustFreeze(c)

		Expect(step(c, "in", zs(row(2, 1, 1)))).To(equalZSet(zs(row(1, 1, 1))))
	})

	It("should reject a cycle without a delay", func() {
		f := c.Forward("loop")
		f.Bind(in.Plus("p", f.Stream()))
		err := c.Freeze()
		Expect(err).To(matchErr(ErrConstruction))
		var cerr *dag.CycleError
		Expect(errors.As(err, &cerr)).To(BeTrue())
		Expect(cerr.Nodes).To(ContainElements("loop", "p"))
	})

	It("should reject feedback in a top-level circuit", func() {
		f := c.Forward("loop")
		f.Bind(in.Plus("p", f.Stream()).Delay("z"))
		Expect(c.Freeze()).To(matchErr(ErrConstruction))

		c2 := NewCircuit("test2", Options{})
		c2.Feedback("fb")
		Expect(c2.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject an operator with the wrong arity", func() {
		c.AddOperator(NewMinus("m"), in)
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject incompatible schemas", func() {
		other := c.Input("other", strInt)
		in.Plus("p", other).Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject unbound forward references", func() {
		c.Forward("dangling").Stream().Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject streams of another circuit", func() {
		other := NewCircuit("other", Options{}).Input("x", intInt)
		in.Plus("p", other).Output("out")
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject duplicate inputs and outputs", func() {
		c.Input("in", intInt)
		Expect(c.Freeze()).To(matchErr(ErrConstruction))

		c2 := NewCircuit("test2", Options{})
		s := c2.Input("in", intInt)
		s.Output("out")
		s.Output("out")
		Expect(c2.Freeze()).To(matchErr(ErrConstruction))
	})

	It("should reject an invalid configuration", func() {
		c2 := NewCircuit("test2", Options{Config: config.Config{Workers: -1}})
		c2.Input("in", intInt)
		err := c2.Freeze()
		Expect(err).To(matchErr(ErrConstruction))
		Expect(err).To(matchErr(config.ErrInvalidConfig))
	})

	It("should not be modified or frozen after freezing", func() {
		mustFreeze(c)
		Expect(c.Freeze()).To(matchErr(ErrConstruction))
		in.Distinct("late")
		Expect(c.Err()).To(matchErr(ErrConstruction))
	})
})

var _ = Describe("Circuit execution", func() {
	It("should require a frozen circuit", func() {
		c := NewCircuit("test", Options{})
		c.Input("in", intInt).Output("out")
		_, err := c.Step(bg(), nil)
		Expect(err).To(matchErr(ErrNotRunning))
	})

	It("should count ticks", func() {
		c := NewCircuit("test", Options{})
		c.Input("in", intInt).Output("out")
		mustFreeze(c)
		step(c, "in", nil)
		step(c, "in", nil)
		Expect(c.Clock()).To(BeNumerically("==", 2))
	})

	It("should reject unknown and malformed inputs", func() {
		c := NewCircuit("test", Options{})
		c.Input("in", strInt).Output("out")
		mustFreeze(c)

		_, err := c.Step(bg(), map[string]*zset.ZSet{"nope": zs(row(1, "a", 1))})
		Expect(err).To(matchErr(ErrData))
		_, err = c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 1, 1))})
		Expect(err).To(matchErr(ErrData))
		Expect(errors.Is(err, zset.ErrSchemaMismatch)).To(BeTrue())
		Expect(c.State()).To(Equal(StateRunning))
		Expect(c.Clock()).To(BeNumerically("==", 0))
	})

	Context("with a failing operator", func() {
		var (
			c    *Circuit
			fail bool
		)

		BeforeEach(func() {
			fail = false
		})

		build := func(opts Options) {
			c = NewCircuit("test", opts)
			in := c.Input("in", intInt)
			in.Distinct("d").Output("out")
			in.Map("check", func(t zset.Tuple) (zset.Tuple, error) {
				if fail {
					return nil, errors.New("rejected")
				}
				return t, nil
			}, intInt).Output("checked")
			mustFreeze(c)
		}

		It("should abort the tick on a data error", func() {
			build(Options{})
			Expect(step(c, "in", zs(row(1, 1, 1)))).To(equalZSet(zs(row(1, 1, 1))))

			fail = true
			_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 2, 2))})
			Expect(err).To(matchErr(ErrData))
			Expect(c.State()).To(Equal(StateRunning))
			Expect(c.Clock()).To(BeNumerically("==", 1))

			By("replaying the aborted change")
			fail = false
			Expect(step(c, "in", zs(row(1, 2, 2)))).To(equalZSet(zs(row(1, 2, 2))))
		})

		It("should poison the circuit on a data error if configured", func() {
			build(Options{Config: config.Config{PoisonOnError: true}})
			fail = true
			_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 2, 2))})
			Expect(err).To(matchErr(ErrData))
			Expect(c.State()).To(Equal(StatePoisoned))
			_, err = c.Step(bg(), nil)
			Expect(err).To(matchErr(ErrPoisoned))
		})
	})

	It("should poison the circuit on a panic and recover by restoring", func() {
		store := storage.NewMemStore()
		explode := false
		c := NewCircuit("test", Options{})
		in := c.Input("in", intInt)
		in.Map("bomb", func(t zset.Tuple) (zset.Tuple, error) {
			if explode {
				panic("boom")
			}
			return t, nil
		}, nil).Distinct("d").Output("out")
		mustFreeze(c)

		step(c, "in", zs(row(1, 1, 1)))
		Expect(c.Checkpoint(bg(), store)).To(Succeed())

		explode = true
		_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 2, 2))})
		Expect(err).To(matchErr(ErrData))
		Expect(err).To(MatchError(ContainSubstring("boom")))
		Expect(c.State()).To(Equal(StatePoisoned))
		Expect(c.Checkpoint(bg(), store)).To(matchErr(ErrPoisoned))

		explode = false
		Expect(c.Restore(bg(), store)).To(Succeed())
		Expect(c.State()).To(Equal(StateRunning))
		Expect(step(c, "in", zs(row(1, 1, 1), row(1, 2, 2)))).To(equalZSet(zs(row(1, 2, 2))))
	})

	It("should abort a canceled tick", func() {
		ctx, cancel := context.WithCancel(context.Background())
		c := NewCircuit("test", Options{})
		c.Input("in", intInt).
			Map("cancel", func(t zset.Tuple) (zset.Tuple, error) { cancel(); return t, nil }, nil).
			Distinct("d").Output("out")
		mustFreeze(c)

		_, err := c.Step(ctx, map[string]*zset.ZSet{"in": zs(row(1, 1, 1))})
		Expect(err).To(matchErr(context.Canceled))
		Expect(c.State()).To(Equal(StateRunning))
		Expect(c.Clock()).To(BeNumerically("==", 0))

		Expect(step(c, "in", zs(row(1, 1, 1)))).To(equalZSet(zs(row(1, 1, 1))))
	})

	It("should reject concurrent ticks", func() {
		entered, release, done := make(chan struct{}), make(chan struct{}), make(chan struct{})
		c := NewCircuit("test", Options{})
		c.Input("in", intInt).Map("block", func(t zset.Tuple) (zset.Tuple, error) {
			close(entered)
			<-release
			return t, nil
		}, nil).Output("out")
		mustFreeze(c)

		go func() {
			defer GinkgoRecover()
			defer close(done)
			_, err := c.Step(bg(), map[string]*zset.ZSet{"in": zs(row(1, 1, 1))})
			Expect(err).NotTo(HaveOccurred())
		}()

		Eventually(entered).Should(BeClosed())
		_, err := c.Step(bg(), nil)
		Expect(err).To(matchErr(ErrStepInProgress))
		close(release)
		Eventually(done).Should(BeClosed())
		Expect(c.Clock()).To(BeNumerically("==", 1))
	})

	It("should refuse to run after close", func() {
		c := NewCircuit("test", Options{})
		c.Input("in", intInt).Output("out")
		mustFreeze(c)
		Expect(c.Close()).To(Succeed())
		Expect(c.State()).To(Equal(StateClosed))
		_, err := c.Step(bg(), nil)
		Expect(err).To(matchErr(ErrClosed))
		Expect(c.Checkpoint(bg(), storage.NewMemStore())).To(matchErr(ErrClosed))
	})

	It("should give the same result with parallel workers", func() {
		build := func(workers int) *Circuit {
			c := NewCircuit("parallel", Options{Config: config.Config{Workers: workers}})
			in := c.Input("in", intInt)
			branches := []*Stream{}
			for i := 0; i < 8; i++ {
				k := int64(i)
				branches = append(branches, in.
					Map("", func(t zset.Tuple) (zset.Tuple, error) {
						return zset.T(t[0].(int64)%(k+1), t[1]), nil
					}, intInt).
					Distinct(""))
			}
			branches[0].Plus("sum", branches[1:]...).Aggregate("count", []int{0}, Count()).Output("out")
			return mustFreeze(c)
		}
		seq, par := build(1), build(4)

		deltas := []*zset.ZSet{
			zs(row(1, 1, 1), row(1, 2, 2), row(1, 3, 3), row(1, 7, 1)),
			zs(row(-1, 2, 2), row(2, 5, 1)),
			zs(row(-1, 1, 1), row(-2, 5, 1)),
		}
		for _, d := range deltas {
			Expect(step(par, "in", d)).To(equalZSet(step(seq, "in", d)))
		}
	})
})

var _ = Describe("Observability", func() {
	It("should export metrics", func() {
		reg := prometheus.NewRegistry()
		build := func() *Circuit {
			c := NewCircuit("metered", Options{Registerer: reg})
			c.Input("in", intInt).Distinct("d").Output("out")
			return mustFreeze(c)
		}
		c := build()
		Expect(func() { build() }).NotTo(Panic())

		step(c, "in", zs(row(1, 1, 1)))
		step(c, "in", zs(row(1, 2, 2)))
		Expect(testutil.ToFloat64(c.metrics.ticks.WithLabelValues("metered", tickOK))).To(BeNumerically("==", 2))
		Expect(testutil.ToFloat64(c.metrics.traceBatches.WithLabelValues("metered", "d"))).
			To(BeNumerically(">=", 1))
	})

	It("should not require a registerer", func() {
		c := NewCircuit("plain", Options{})
		Expect(c.metrics).To(BeNil())
		c.Input("in", intInt).Distinct("d").Output("out")
		mustFreeze(c)
		step(c, "in", zs(row(1, 1, 1)))
	})

	It("should log operator evaluations", func() {
		buf := &bytes.Buffer{}
		c := NewCircuit("logged", Options{Logger: util.NewLoggerTo(buf, false, 4)})
		c.Input("in", intInt).Distinct("d").Output("out")
		mustFreeze(c)

		Expect(step(c, "in", zs(row(2, 1, 1), row(1, 2, 2), row(-1, 3, 3)))).
			To(equalZSet(zs(row(1, 1, 1), row(1, 2, 2))))
		Expect(buf.String()).To(ContainSubstring(`"msg":"eval"`))
		Expect(buf.String()).To(ContainSubstring(`"in":3`))
		Expect(buf.String()).To(ContainSubstring(`"out":2`))
		Expect(totalSize([]*zset.ZSet{zs(row(2, 1, 1)), nil, zs(row(-1, 2, 2))})).To(Equal(zset.Weight(2)))
	})

	It("should trace ticks", func() {
		rec := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
		c := NewCircuit("traced", Options{TracerProvider: tp})
		c.Input("in", intInt).Output("out")
		mustFreeze(c)
		step(c, "in", nil)

		spans := rec.Ended()
		Expect(spans).To(HaveLen(1))
		Expect(spans[0].Name()).To(Equal("dbsp.Step"))
	})
})
