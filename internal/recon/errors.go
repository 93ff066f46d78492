package recon

import "fmt"

// ValidationError reports malformed input: an unnormalizable CUIT, an
// unknown comprobante letter, an out-of-range point of sale or number.
// "No match found" is never a ValidationError; it is an empty result.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError reports an attempt to create a duplicate natural key or
// to consume an expected invoice that is already matched.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StorageError wraps a persistence-layer failure. The underlying error is
// preserved for errors.Is/As; it is propagated, never swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
