package plan

import (
	"github.com/cockroachdb/errors"
)

// ErrInvalidPlan marks plans that cannot be turned into a circuit. Structural problems found
// only when the circuit is frozen are reported as dbsp.ErrConstruction.
var ErrInvalidPlan = errors.New("invalid plan")

func NewInvalidPlanError(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidPlan)
}

func NewNodeError(node string, err error) error {
	return errors.Mark(errors.Wrapf(err, "node %s", node), ErrInvalidPlan)
}
