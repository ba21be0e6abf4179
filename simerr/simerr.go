// Package simerr defines the error kinds raised by the tree population core.
package simerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	// BadData is malformed or out-of-range input.
	BadData Kind = iota + 1
	// IllegalOperation is an attempt to mutate an immutable field or to set
	// a size below the allowed minimum.
	IllegalOperation
	// TreeWrongType is a tree reaching code that assumed a stage it does not have.
	TreeWrongType
	// DataMissing is required configuration that is absent.
	DataMissing
	// CantFindObject is a required collaborator that was not available.
	CantFindObject
)

func (k Kind) String() string {
	switch k {
	case BadData:
		return "bad data"
	case IllegalOperation:
		return "illegal operation"
	case TreeWrongType:
		return "tree wrong type"
	case DataMissing:
		return "data missing"
	case CantFindObject:
		return "can't find object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Sentinels for errors.Is.
var (
	ErrBadData          = &Error{Kind: BadData}
	ErrIllegalOperation = &Error{Kind: IllegalOperation}
	ErrTreeWrongType    = &Error{Kind: TreeWrongType}
	ErrDataMissing      = &Error{Kind: DataMissing}
	ErrCantFindObject   = &Error{Kind: CantFindObject}
)

// Error is a kind-tagged failure with the operation that raised it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		if msg == "" {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with a kind. Returns nil if cause is nil.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
