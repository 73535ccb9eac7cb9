package importer

import (
	"errors"
	"fmt"

	"github.com/raillogistic/bulkimport/internal/domain"
)

var (
	// ErrSimulationRequired is returned when commit is attempted without a
	// passing simulation snapshot.
	ErrSimulationRequired = errors.New("commit requires a passing simulation snapshot")

	// ErrStaleSimulation is returned when rows were edited after the latest
	// simulation snapshot was taken.
	ErrStaleSimulation = errors.New("rows were edited after the last simulation")

	// ErrBatchTerminal is returned when an operation targets a batch in a
	// terminal state.
	ErrBatchTerminal = errors.New("batch is in a terminal state")
)

// ServiceError is a structural import failure. It aborts the whole current
// operation; per-row data problems never surface as ServiceError outside of
// commit.
type ServiceError struct {
	Code      domain.IssueCode
	RowNumber *int
	FieldPath string
	Message   string
	Err       error
}

func (e *ServiceError) Error() string {
	if e.RowNumber != nil {
		return fmt.Sprintf("%s (row %d): %s", e.Code, *e.RowNumber, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError builds a batch-level structural error.
func NewServiceError(code domain.IssueCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// WithRow attaches the offending row number.
func (e *ServiceError) WithRow(rowNumber int) *ServiceError {
	e.RowNumber = &rowNumber
	return e
}

// WithField attaches the offending field path.
func (e *ServiceError) WithField(fieldPath string) *ServiceError {
	e.FieldPath = fieldPath
	return e
}

// WithCause wraps the underlying error.
func (e *ServiceError) WithCause(err error) *ServiceError {
	e.Err = err
	return e
}

// AsServiceError unwraps err into a ServiceError if one is present.
func AsServiceError(err error) (*ServiceError, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}
