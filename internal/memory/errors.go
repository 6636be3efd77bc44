package memory

import (
	"errors"
	"fmt"

	"github.com/daverage/tinymem/internal/evidence"
)

var (
	// ErrDirectFactCreation rejects facts on the unmediated write path.
	ErrDirectFactCreation = errors.New("facts cannot be created directly: they require verified evidence")
	// ErrEvidenceRequired rejects a fact request with no predicates.
	ErrEvidenceRequired = errors.New("facts require at least one evidence predicate")
	// ErrEvidenceUnsatisfied is wrapped by EvidenceError.
	ErrEvidenceUnsatisfied = errors.New("evidence not satisfied")
	// ErrNotFound is returned when a record does not exist in the project.
	ErrNotFound = errors.New("memory not found")
)

// ValidationError reports bad input. The message is meant for users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalidType(t Type) *ValidationError {
	return &ValidationError{
		Field:   "type",
		Message: fmt.Sprintf("Invalid memory type: %q (valid: %s)", t, TypeNames(AllTypes())),
	}
}

// EvidenceError carries the report of a failed evidence check.
type EvidenceError struct {
	Report evidence.Report
}

func (e *EvidenceError) Error() string {
	failed := 0
	for _, r := range e.Report.Results {
		if !r.Satisfied {
			failed++
		}
	}
	return fmt.Sprintf("%v: %d of %d predicates failed", ErrEvidenceUnsatisfied, failed, len(e.Report.Results))
}

func (e *EvidenceError) Unwrap() error {
	return ErrEvidenceUnsatisfied
}
