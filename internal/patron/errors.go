// internal/patron/errors.go
package patron

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRecordNotFound = errors.New("user record not found")

// ValidationError lists the fields a record is missing for provisioning.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// WriteBackError is a failure to save the username into the library record
// after the provider side already succeeded.
type WriteBackError struct {
	PrimaryID string
	Cause     error
}

func (e *WriteBackError) Error() string {
	return fmt.Sprintf("write back username for %s: %v", e.PrimaryID, e.Cause)
}

func (e *WriteBackError) Unwrap() error { return e.Cause }
