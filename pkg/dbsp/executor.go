package dbsp

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/dbsp/pkg/trace"
	"github.com/l7mp/dbsp/pkg/zset"
)

// Tick results reported in metrics.
const (
	tickOK       = "ok"
	tickError    = "error"
	tickPoisoned = "poisoned"
)

// Step runs one tick: it feeds the input changes to the circuit and returns the change of every
// output. Missing inputs are empty. A failed tick leaves the state of the circuit as it was
// before the tick, unless the failure poisons the circuit.
func (c *Circuit) Step(ctx context.Context, inputs map[string]*zset.ZSet) (map[string]*zset.ZSet, error) {
	if !c.mu.TryLock() {
		return nil, ErrStepInProgress
	}
	defer c.mu.Unlock()

	if err := c.checkRunning(); err != nil {
		return nil, err
	}
	if err := c.setInputs(inputs); err != nil {
		return nil, err
	}
	defer c.setInputs(nil) //nolint:errcheck

	now := c.clock
	ctx, span := c.tracer.Start(ctx, "dbsp.Step")
	span.SetAttributes(attribute.String("circuit", c.name), attribute.Int64("tick", int64(now)))
	defer span.End()

	start := time.Now()
	results, err := c.run(ctx, now)
	if err != nil {
		c.abort()
		result := tickError
		if errors.Is(err, errPanic) || (c.cfg.PoisonOnError && errors.Is(err, ErrData)) {
			c.state = StatePoisoned
			result = tickPoisoned
		}
		c.metrics.observeTick(c.name, result, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error(err, "tick failed", "tick", now, "state", c.state.String())
		return nil, err
	}

	c.commit(now)
	c.clock++
	c.metrics.observeTick(c.name, tickOK, time.Since(start))

	ret := make(map[string]*zset.ZSet, len(c.outputs))
	for _, o := range c.outputs {
		ret[o.name] = results[o.node.ID]
	}
	c.log.V(1).Info("tick done", "tick", now, "outputs", len(ret), "duration", time.Since(start).String())
	return ret, nil
}

func (c *Circuit) checkRunning() error {
	switch c.state {
	case StateRunning:
		return nil
	case StatePoisoned:
		return ErrPoisoned
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotRunning
	}
}

func (c *Circuit) setInputs(inputs map[string]*zset.ZSet) error {
	for name := range inputs {
		if n, ok := c.byName[name]; !ok || !c.isInput(n) {
			return NewDataError(errors.Newf("circuit %s: unknown input %q", c.name, name))
		}
	}
	for _, n := range c.inputs {
		z := inputs[n.Name]
		if z != nil && n.Schema != nil {
			if err := z.Validate(n.Schema); err != nil {
				return NewOperatorError(n, err)
			}
		}
		n.Op.(*InputOp).SetData(z)
	}
	return nil
}

func (c *Circuit) isInput(n *Node) bool {
	for _, in := range c.inputs {
		if in == n {
			return true
		}
	}
	return false
}

// run evaluates every node once at logical time t and returns the outputs indexed by node ID.
// Strict nodes emit their latched value first and latch their input at the end.
func (c *Circuit) run(ctx context.Context, t trace.Time) ([]*zset.ZSet, error) {
	results := make([]*zset.ZSet, len(c.nodes))
	for _, n := range c.strict {
		results[n.ID] = n.Op.(Strict).Output()
	}
	for _, level := range c.levels {
		if err := c.evalLevel(ctx, t, level, results); err != nil {
			return nil, err
		}
	}
	for _, n := range c.strict {
		n.Op.(Strict).Latch(results[n.Inputs[0].ID])
	}
	return results, nil
}

// evalLevel evaluates independent nodes, concurrently if the circuit has more than one worker.
// Every node writes only its own slot of results.
func (c *Circuit) evalLevel(ctx context.Context, t trace.Time, level []*Node, results []*zset.ZSet) error {
	if c.cfg.Workers <= 1 || len(level) == 1 {
		for _, n := range level {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(err, "circuit %s: tick %d canceled", c.name, t)
			}
			if err := c.evalNode(ctx, t, n, results); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, n := range level {
		n := n
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.Wrapf(err, "circuit %s: tick %d canceled", c.name, t)
			}
			return c.evalNode(gctx, t, n, results)
		})
	}
	return g.Wait()
}

func (c *Circuit) evalNode(ctx context.Context, t trace.Time, n *Node, results []*zset.ZSet) (err error) {
	if n.IsStrict() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = NewOperatorError(n, newPanicError(r))
		}
	}()

	inputs := make([]*zset.ZSet, len(n.Inputs))
	for i, in := range n.Inputs {
		inputs[i] = results[in.ID]
	}
	log := c.log.WithValues("node", n.Name)
	start := time.Now()
	out, err := n.Op.Eval(&EvalContext{Context: ctx, Time: t, Logger: log, circuit: c}, inputs...)
	c.metrics.observeOp(n.Op.Kind(), time.Since(start))
	if err != nil {
		return NewOperatorError(n, err)
	}
	if out == nil {
		out = zset.New()
	}
	results[n.ID] = out
	log.V(4).Info("eval", "time", t, "in", totalSize(inputs), "out", out.Size())
	return nil
}

func totalSize(zs []*zset.ZSet) zset.Weight {
	var ret zset.Weight
	for _, z := range zs {
		ret += z.Size()
	}
	return ret
}

func (c *Circuit) commit(t trace.Time) {
	for _, n := range c.stateful {
		n.Op.(Stateful).Commit(t)
	}
	if c.metrics == nil {
		return
	}
	for _, n := range c.stateful {
		if tr, ok := n.Op.(traced); ok {
			batches := 0
			for _, s := range tr.spines() {
				batches += s.NumBatches()
			}
			c.metrics.setTraceBatches(c.name, n.Name, batches)
		}
	}
}

func (c *Circuit) abort() {
	for _, n := range c.stateful {
		n.Op.(Stateful).Abort()
	}
}

// reset drops the state of every node and rewinds the clock.
func (c *Circuit) reset() {
	for _, n := range c.stateful {
		n.Op.(Stateful).Reset()
	}
	c.clock = 0
}

// Close shuts the circuit down. It waits for a running tick to finish.
func (c *Circuit) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	return nil
}
