package assignment

import (
	"errors"
	"fmt"

	"github.com/pavelanni/mdquiz/internal/model"
)

// ErrNotFound is returned for unknown tokens.
var ErrNotFound = errors.New("assignment not found")

// Kind classifies a rejected operation.
type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindLocked            Kind = "locked"
	KindExpired           Kind = "expired"
	KindTooEarly          Kind = "too_early"
)

// StateError reports an operation attempted outside its legal state.
type StateError struct {
	Kind   Kind
	Op     string
	Status model.Status
}

func (e *StateError) Error() string {
	switch e.Kind {
	case KindLocked:
		return fmt.Sprintf("%s: assignment locked after too many verification attempts", e.Op)
	case KindExpired:
		return fmt.Sprintf("%s: assignment expired", e.Op)
	case KindTooEarly:
		return fmt.Sprintf("%s: too early to submit", e.Op)
	}
	return fmt.Sprintf("%s: not allowed in status %s", e.Op, e.Status)
}

func isKind(err error, k Kind) bool {
	var se *StateError
	return errors.As(err, &se) && se.Kind == k
}

func IsLocked(err error) bool            { return isKind(err, KindLocked) }
func IsExpired(err error) bool           { return isKind(err, KindExpired) }
func IsTooEarly(err error) bool          { return isKind(err, KindTooEarly) }
func IsInvalidTransition(err error) bool { return isKind(err, KindInvalidTransition) }

func invalid(op string, a *model.Assignment) error {
	return &StateError{Kind: KindInvalidTransition, Op: op, Status: a.Status}
}

// closed returns the error for an operation on an expired assignment.
func closed(op string, a *model.Assignment) error {
	if a.Verify.Locked {
		return &StateError{Kind: KindLocked, Op: op, Status: a.Status}
	}
	return &StateError{Kind: KindExpired, Op: op, Status: a.Status}
}
