package plan

import (
	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/dbsp"
	"github.com/l7mp/dbsp/pkg/expression"
	"github.com/l7mp/dbsp/pkg/util"
	"github.com/l7mp/dbsp/pkg/zset"
)

func (b *builder) eval(e *expression.Expression, row zset.Tuple) (any, error) {
	return e.Evaluate(expression.EvalCtx{Row: row, Log: b.log})
}

func (b *builder) mapFunc(e *expression.Expression) dbsp.MapFunc {
	return func(row zset.Tuple) (zset.Tuple, error) {
		v, err := b.eval(e, row)
		if err != nil {
			return nil, err
		}
		return asTuple(v)
	}
}

func (b *builder) flatMapFunc(e *expression.Expression) dbsp.FlatMapFunc {
	return func(row zset.Tuple) ([]zset.Tuple, error) {
		v, err := b.eval(e, row)
		if err != nil {
			return nil, err
		}
		vs, err := expression.AsList(v)
		if err != nil {
			return nil, err
		}
		ret := make([]zset.Tuple, 0, len(vs))
		for _, v := range vs {
			t, err := asTuple(v)
			if err != nil {
				return nil, err
			}
			ret = append(ret, t)
		}
		return ret, nil
	}
}

func (b *builder) predicate(e *expression.Expression) dbsp.Predicate {
	return func(row zset.Tuple) (bool, error) {
		v, err := b.eval(e, row)
		if err != nil {
			return false, err
		}
		return expression.AsBool(v)
	}
}

func (b *builder) joinProjector(e *expression.Expression) dbsp.JoinProjector {
	return func(left, right zset.Tuple) (zset.Tuple, error) {
		v, err := b.eval(e, left.Concat(right))
		if err != nil {
			return nil, err
		}
		return asTuple(v)
	}
}

// asTuple converts the result of an expression to a row. Scalars become single-column rows.
func asTuple(v any) (zset.Tuple, error) {
	switch x := v.(type) {
	case zset.Tuple:
		return x, nil
	case []any:
		return zset.NewTuple(x...)
	default:
		t, err := zset.NewTuple(v)
		if err != nil {
			return nil, errors.Wrapf(err, "expression result %s is not a row", util.Stringify(v))
		}
		return t, nil
	}
}
