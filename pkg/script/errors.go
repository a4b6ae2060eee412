package script

import (
	"errors"
	"fmt"
)

// ErrParse is returned for any malformed script source: an unknown role, an
// unknown meta tag or server command, a directive with the wrong number or
// type of fields, bad hex data, or a `!: BOLT`/`!: NEO4J` value that is not
// a major[.minor] number. Whether the version is supported is not checked
// here, and a non-JSON tail on a line is kept as a string field.
var ErrParse = errors.New("script: parse error")

// ErrMismatch is returned when a client message doesn't match the next
// expected line: wrong tag, wrong arity, or a field value that doesn't
// structurally equal the expected one.
var ErrMismatch = errors.New("script: mismatch")

// ErrExhausted is returned when a client message arrives after the script
// has no more expected lines left to match against.
var ErrExhausted = errors.New("script: exhausted")

// MismatchError carries the script line and received message for a failed
// match, the way the Python reference's ScriptMismatch formats a
// diagnostic.
type MismatchError struct {
	LineNo   int
	Expected string
	Got      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("script: mismatch at line %d: expected %s, got %s", e.LineNo, e.Expected, e.Got)
}

func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}
