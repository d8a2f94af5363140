package expression

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrExpression marks errors raised while evaluating an expression.
	ErrExpression = errors.New("expression error")
	// ErrUnmarshal marks malformed serialized expressions.
	ErrUnmarshal = errors.New("expression parse error")
)

func NewInvalidArgumentsError(content string) error {
	return errors.Mark(errors.Newf("invalid arguments at %q", content), ErrExpression)
}

func NewUnmarshalError(kind, content string) error {
	return errors.Mark(errors.Newf("JSON parsing error in %s at %q", kind, content), ErrUnmarshal)
}

func NewExpressionError(e *Expression, err error) error {
	return errors.Mark(errors.Wrapf(err, "failed to evaluate %s expression %s", e.Op, e.String()),
		ErrExpression)
}
