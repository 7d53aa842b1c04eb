package importers

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrEmptyInput is returned when there is nothing to import.
var ErrEmptyInput = errors.New("import input is empty")

// ValidationError describes a parsed entry that failed validation.
type ValidationError struct {
	Block  int
	Fields validation.Errors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block %d: %v", e.Block, e.Fields)
}

// StorageError wraps a failure of the persistence layer. It is the only
// error that fails an import session.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
