package transform

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind categorizes why a transformation rejected or failed on a node.
type Kind string

const (
	// KindUnsupportedPattern marks a candidate violating a structural precondition. Skipped.
	KindUnsupportedPattern Kind = "unsupported_pattern"
	// KindInconsistentGeometry marks a candidate whose shapes cannot be reconciled. Skipped.
	KindInconsistentGeometry Kind = "inconsistent_geometry"
	// KindInvalidBitWidth marks a bit width that cannot be represented. Fatal.
	KindInvalidBitWidth Kind = "invalid_bit_width"
)

// Error is the structured error reported by transformations.
type Error struct {
	Kind   Kind
	Node   string // Offending node, if any
	Detail string
	Cause  error
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedPattern   = &Error{Kind: KindUnsupportedPattern}
	ErrInconsistentGeometry = &Error{Kind: KindInconsistentGeometry}
	ErrInvalidBitWidth      = &Error{Kind: KindInvalidBitWidth}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Node != "" {
		b.WriteString(" at node ")
		b.WriteString(e.Node)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Errorf returns an *Error of the given kind for node.
func Errorf(kind Kind, node, format string, args ...any) *Error {
	return &Error{Kind: kind, Node: node, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind for node caused by err.
func Wrap(kind Kind, node string, err error, detail string) *Error {
	return &Error{Kind: kind, Node: node, Detail: detail, Cause: err}
}

// IsSkippable reports whether err rejects a single candidate rather than the whole pass.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrUnsupportedPattern) || errors.Is(err, ErrInconsistentGeometry)
}
