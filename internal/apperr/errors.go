// Package apperr defines the error kinds that decide how a turn recovers.
//
// Only KindQuery is ever retried, and only inside the query attempt loop.
// Every other kind is surfaced once and turned into a user-facing apology.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal or retryable failure.
type Kind int

const (
	// KindService means the model or chart service was unreachable or returned something unusable.
	KindService Kind = iota + 1
	// KindQuery means the query engine rejected or failed a query.
	KindQuery
	// KindPlanning means no usable plan could be derived.
	KindPlanning
	// KindValidation means a chart asked for columns or values the result table does not have.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindService:
		return "ServiceError"
	case KindQuery:
		return "QueryError"
	case KindPlanning:
		return "PlanningError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

// Error carries a Kind plus whatever step context was known when it happened.
type Error struct {
	Kind Kind
	Op   string

	// Step is the 1-based plan step, 0 when the error is not tied to a step.
	Step        int
	Instruction string
	Attempts    int
	Query       string

	Err error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Step > 0 && e.Attempts > 0:
		msg = fmt.Sprintf("%s: step %d (%q) failed after %d attempts", e.Kind, e.Step, e.Instruction, e.Attempts)
	case e.Attempts > 0:
		msg = fmt.Sprintf("%s: %s failed after %d attempts", e.Kind, e.Op, e.Attempts)
	case e.Op != "":
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Service wraps a transport or decoding failure from an external service.
func Service(op string, err error) error {
	return &Error{Kind: KindService, Op: op, Err: err}
}

// Query wraps the last engine failure once the retry ceiling is exhausted.
func Query(op string, attempts int, query string, err error) error {
	return &Error{Kind: KindQuery, Op: op, Attempts: attempts, Query: query, Err: err}
}

// Planning reports a plan that could not be used.
func Planning(op string, err error) error {
	return &Error{Kind: KindPlanning, Op: op, Err: err}
}

// Validation reports a chart request that does not fit the result table.
func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// AtStep returns a copy of err annotated with the failing plan step.
// Errors that are not *Error are returned unchanged.
func AtStep(err error, step int, instruction string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Step = step
	cp.Instruction = instruction
	return &cp
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
