package etl

import (
	"errors"
	"fmt"
)

// Sentinels for the engine's error classes. Every error returned by the
// engine matches exactly one of them with errors.Is.
var (
	ErrConnectivity   = errors.New("connectivity error")
	ErrQueryExecution = errors.New("query execution error")
	ErrTransformation = errors.New("transformation error")
	ErrIntegrity      = errors.New("integrity error")
	ErrEncoding       = errors.New("encoding error")

	// ErrSchemaDrift is wrapped by integrity errors raised when records routed
	// to the same sink call do not share a column set.
	ErrSchemaDrift = errors.New("schema drift")
)

// Error carries the failed operation and the error class.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, op string, err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func connectivityErr(op string, err error) error { return newError(ErrConnectivity, op, err) }
func queryErr(op string, err error) error        { return newError(ErrQueryExecution, op, err) }
func transformErr(op string, err error) error    { return newError(ErrTransformation, op, err) }
func integrityErr(op string, err error) error    { return newError(ErrIntegrity, op, err) }
func encodingErr(op string, err error) error     { return newError(ErrEncoding, op, err) }

// ConnectivityError wraps a connection open failure from a provider outside
// the engine.
func ConnectivityError(op string, err error) error { return connectivityErr(op, err) }
