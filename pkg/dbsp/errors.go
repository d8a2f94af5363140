package dbsp

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error classes. Every error returned by a circuit is marked with exactly one of the first four
// classes, or with one of the lifecycle errors; test with errors.Is.
var (
	// ErrConstruction marks invalid circuits: cycles without a delay, arity and schema
	// mismatches, unbound forward references. Reported by Freeze.
	ErrConstruction = errors.New("invalid circuit")
	// ErrData marks malformed or out-of-contract input to an operator. The tick is aborted.
	ErrData = errors.New("data error")
	// ErrNotConverged marks nested circuits that hit their iteration ceiling.
	ErrNotConverged = errors.New("fixed point not reached")
	// ErrPersistence marks checkpoint and restore failures.
	ErrPersistence = errors.New("persistence error")

	// ErrPoisoned is returned by a circuit that must be restored from a checkpoint.
	ErrPoisoned = errors.New("circuit poisoned")
	// ErrClosed is returned by a closed circuit.
	ErrClosed = errors.New("circuit closed")
	// ErrNotRunning is returned when stepping a circuit that was not frozen.
	ErrNotRunning = errors.New("circuit not running")
	// ErrStepInProgress is returned when a tick is started while another one is running.
	ErrStepInProgress = errors.New("step in progress")

	// errPanic marks errors recovered from an operator panic.
	errPanic = errors.New("operator panic")
)

// OperatorError attributes an error to the node that raised it.
type OperatorError struct {
	// Node is the name of the node.
	Node string
	// Kind is the operator kind.
	Kind string
	Err  error
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator %s (%s): %v", e.Node, e.Kind, e.Err)
}

func (e *OperatorError) Unwrap() error { return e.Err }

// NewOperatorError wraps an error raised by a node. Errors that carry no class and are not
// cancellations are marked as data errors.
func NewOperatorError(node *Node, err error) error {
	var oerr *OperatorError
	if errors.As(err, &oerr) && oerr.Node == node.Name {
		return err
	}
	ret := error(&OperatorError{Node: node.Name, Kind: node.Op.Kind(), Err: err})
	if !errors.IsAny(err, ErrNotConverged, ErrPersistence, ErrConstruction, ErrData,
		context.Canceled, context.DeadlineExceeded) {
		ret = errors.Mark(ret, ErrData)
	}
	return ret
}

// NewConstructionError creates a construction error.
func NewConstructionError(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConstruction)
}

// NewArityError reports an operator called with the wrong number of inputs.
func NewArityError(name string, expected, got int) error {
	return errors.Mark(errors.Newf("operator %s expects %d inputs, got %d", name, expected, got),
		ErrConstruction)
}

// NewDataError creates a data error.
func NewDataError(err error) error {
	return errors.Mark(err, ErrData)
}

// NewPersistenceError wraps a checkpoint or restore failure.
func NewPersistenceError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrPersistence)
}

// NewNotConvergedError reports a nested circuit that did not reach a fixed point.
func NewNotConvergedError(name string, iterations int) error {
	return errors.Mark(errors.Newf("nested circuit %s did not converge in %d iterations", name, iterations),
		ErrNotConverged)
}

// newPanicError converts a recovered panic to an error.
func newPanicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.Mark(errors.Wrap(err, "panic"), errPanic)
	}
	return errors.Mark(errors.Newf("panic: %v", r), errPanic)
}
