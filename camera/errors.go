package camera

import (
	"errors"
	"fmt"
)

// Error classes. None of them is fatal; each is scoped to one message or one session.
var (
	ErrDecode                = errors.New("decode failed")
	ErrSchema                = errors.New("schema mismatch")
	ErrGeometry              = errors.New("invalid geometry")
	ErrTransportDisconnected = errors.New("transport disconnected")
)

// DecodeError reports a payload that could not be decompressed or parsed
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s payload: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// SchemaError reports a decoded document that lacks a required field.
// It matches both ErrSchema and ErrDecode.
type SchemaError struct {
	Format Format
	Field  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s document: missing required field %q", e.Format, e.Field)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema || target == ErrDecode
}

// GeometryError reports coordinates or sizes that violate snapshot invariants
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return "geometry: " + e.Reason
}

func (e *GeometryError) Is(target error) bool { return target == ErrGeometry }

func decodeErr(format Format, msg string, args ...any) error {
	return &DecodeError{Format: format, Err: fmt.Errorf(msg, args...)}
}
