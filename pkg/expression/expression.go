package expression

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/l7mp/dbsp/pkg/zset"
)

// EvalCtx is the input of an evaluation: the row the column references point into.
type EvalCtx struct {
	Row zset.Tuple
	Log logr.Logger
}

// Expression is a node of an expression tree over the columns of a row. Serialized, a literal
// is a JSON scalar, a list is a JSON array and an operator is a single-key map whose key starts
// with @, e.g. {"@eq": [{"@col": 0}, "a"]}.
type Expression struct {
	Op      string
	Arg     *Expression
	Literal any
}

func (e *Expression) Evaluate(ctx EvalCtx) (any, error) {
	if len(e.Op) == 0 {
		return nil, NewInvalidArgumentsError(e.String())
	}

	switch e.Op {
	case "@null":
		return nil, nil

	case "@bool":
		lit := e.Literal
		if e.Arg != nil {
			// eval stacked expressions stored in e.Arg
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsBool(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)

		return v, nil

	case "@int":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsInt(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)

		return v, nil

	case "@float":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsFloat(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)

		return v, nil

	case "@string":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsString(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)

		return v, nil

	case "@list":
		ret := []any{}
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}

			vs, err := AsList(v)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			ret = vs
		} else {
			// literal lists stored in Literal
			es, ok := e.Literal.([]Expression)
			if !ok {
				return nil, NewExpressionError(e, errors.New("literal list must be a list of expressions"))
			}

			for i := range es {
				v, err := es[i].Evaluate(ctx)
				if err != nil {
					return nil, err
				}
				ret = append(ret, v)
			}
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", ret)

		return ret, nil
	}

	// operators evaluate their argument first
	if e.Arg == nil {
		return nil, NewExpressionError(e, errors.New("missing argument"))
	}
	arg, err := e.Arg.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "@col":
		i, err := AsInt(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if i < 0 || int(i) >= len(ctx.Row) {
			return nil, NewExpressionError(e, errors.Newf("column %d out of range for row %s", i, ctx.Row))
		}

		v := ctx.Row[i]
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)
		return v, nil

	// unary bool
	case "@isnull":
		v := arg == nil
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", arg, "result", v)
		return v, nil

	case "@not":
		arg, err := AsBool(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := !arg
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", arg, "result", v)
		return v, nil

	// binary bool
	case "@eq", "@ne", "@lt", "@le", "@gt", "@ge":
		args, err := AsBinaryList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		c := compare(args[0], args[1])
		var v bool
		switch e.Op {
		case "@eq":
			v = c == 0
		case "@ne":
			v = c != 0
		case "@lt":
			v = c < 0
		case "@le":
			v = c <= 0
		case "@gt":
			v = c > 0
		case "@ge":
			v = c >= 0
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v)
		return v, nil

	// list bool
	case "@and":
		args, err := AsBoolList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := true
		for i := range args {
			v = v && args[i]
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v)
		return v, nil

	case "@or":
		args, err := AsBoolList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := false
		for i := range args {
			v = v || args[i]
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v)
		return v, nil

	// string
	case "@hasPrefix":
		args, err := AsBinaryStringList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := strings.HasPrefix(args[0], args[1])
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v)
		return v, nil

	case "@concat":
		args, err := AsStringList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := strings.Join(args, "")
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v)
		return v, nil

	// arithmetic
	case "@add", "@sub", "@mul":
		v, err := arithmetic(e.Op, arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", arg, "result", v)
		return v, nil

	// row construction
	case "@tuple":
		args, err := AsList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v, err := zset.NewTuple(args...)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)
		return v, nil

	default:
		return nil, NewExpressionError(e, errors.New("unknown op"))
	}
}

// compare orders two values. Integers and floats compare by numeric value, everything else in
// the order of tuple elements.
func compare(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	af, aFloat := a.(float64)
	bf, bFloat := b.(float64)
	switch {
	case aInt && bFloat:
		return zset.CompareValues(float64(ai), bf)
	case aFloat && bInt:
		return zset.CompareValues(af, float64(bi))
	}
	return zset.CompareValues(a, b)
}

func arithmetic(op string, arg any) (any, error) {
	is, fs, _, err := AsIntOrFloatList(arg)
	if err != nil {
		return nil, err
	}
	if op == "@sub" && len(is)+len(fs) != 2 {
		return nil, errors.Newf("invalid number of arguments for a binary operator: %d", len(is)+len(fs))
	}
	if len(is)+len(fs) == 0 {
		return nil, errors.New("no arguments")
	}

	if fs != nil {
		v := fs[0]
		for _, x := range fs[1:] {
			switch op {
			case "@add":
				v += x
			case "@sub":
				v -= x
			case "@mul":
				v *= x
			}
		}
		return v, nil
	}

	v := is[0]
	for _, x := range is[1:] {
		switch op {
		case "@add":
			v += x
		case "@sub":
			v -= x
		case "@mul":
			v *= x
		}
	}
	return v, nil
}
