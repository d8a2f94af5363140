package expression

import (
	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/zset"
)

// NewLiteralExpression creates a new literal expression with the given argument.
func NewLiteralExpression(value any) (Expression, error) {
	v, err := zset.Normalize(value)
	if err != nil {
		return Expression{}, errors.Wrap(err, "cannot create a literal expression")
	}

	op := ""
	switch v.(type) {
	case nil:
		return Expression{Op: "@null"}, nil
	case bool:
		op = "@bool"
	case int64:
		op = "@int"
	case float64:
		op = "@float"
	case string:
		op = "@string"
	}

	return Expression{Op: op, Literal: v}, nil
}

// NewColumnExpression creates an expression that, when evaluated on a row, returns the value of
// the given column.
func NewColumnExpression(col int) Expression {
	return Expression{Op: "@col", Arg: &Expression{Op: "@int", Literal: int64(col)}}
}

// NewOpExpression creates an operator applied to the list of arguments.
func NewOpExpression(op string, args ...Expression) Expression {
	return Expression{Op: op, Arg: &Expression{Op: "@list", Literal: args}}
}

// GetLiteralBool returns a literal bool from an expression.
func (e *Expression) GetLiteralBool() (bool, error) {
	return AsBool(e.Literal)
}

// GetLiteralInt returns a literal integer from an expression.
func (e *Expression) GetLiteralInt() (int64, error) {
	return AsInt(e.Literal)
}

// GetLiteralString returns a literal string from an expression.
func (e *Expression) GetLiteralString() (string, error) {
	return AsString(e.Literal)
}

// GetLiteralFloat returns a literal floating point number from an expression.
func (e *Expression) GetLiteralFloat() (float64, error) {
	return AsFloat(e.Literal)
}
