package core

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no import job has the requested ID.
	ErrJobNotFound = errors.New("import job not found")

	// ErrInvalidTransition is returned when a job is asked to move to a
	// status its current status does not allow.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUnknownImportType is returned for an import type with no registered strategy.
	ErrUnknownImportType = errors.New("unknown import type")

	// ErrNoFile is returned when an upload carries no file.
	ErrNoFile = errors.New("no file provided")
)

func unknownImportType(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownImportType, name)
}

// ParseError reports that an uploaded file could not be decoded as tabular
// data. No job is created for it.
type ParseError struct {
	FileName string
	Err      error
}

func (e *ParseError) Error() string {
	if e.FileName == "" {
		return fmt.Sprintf("parse file: %v", e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.FileName, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RowValidationError reports a missing or malformed identity field. It fails
// only the row it occurred in.
type RowValidationError struct {
	Field   Field
	Message string
}

func (e *RowValidationError) Error() string { return e.Message }

func requiredField(f Field) *RowValidationError {
	return &RowValidationError{
		Field:   f,
		Message: fmt.Sprintf("required field missing: %s", fieldLabel(f)),
	}
}

func invalidDate(f Field, value string) *RowValidationError {
	return &RowValidationError{
		Field:   f,
		Message: fmt.Sprintf("invalid date for %s: %q", fieldLabel(f), value),
	}
}

func invalidNumber(f Field, value string) *RowValidationError {
	return &RowValidationError{
		Field:   f,
		Message: fmt.Sprintf("invalid number for %s: %q", fieldLabel(f), value),
	}
}

func fieldLabel(f Field) string {
	if spec, ok := LookupField(f); ok {
		return spec.Header
	}
	return string(f)
}

// MappingError reports a confirmed column mapping that names a field the
// import type does not use or a header the file does not have.
type MappingError struct {
	Field   Field
	Header  string
	Message string
}

func (e *MappingError) Error() string { return e.Message }

// ReferenceNotFoundError reports that a row references an entity that does
// not exist, e.g. an attendee row for an unknown event.
type ReferenceNotFoundError struct {
	Entity string
	Key    string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Entity, e.Key)
}

// TransactionError reports a failed begin, commit or rollback of a row's
// transaction.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// JobSetupError reports a failure before row iteration starts. It fails the
// whole job.
type JobSetupError struct {
	Reason string
	Err    error
}

func (e *JobSetupError) Error() string {
	if e.Err == nil {
		return "import setup failed: " + e.Reason
	}
	return fmt.Sprintf("import setup failed: %s: %v", e.Reason, e.Err)
}

func (e *JobSetupError) Unwrap() error { return e.Err }

// RowError is the failure value of one processed row.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
