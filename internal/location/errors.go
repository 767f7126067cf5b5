package location

import "errors"

var (
	// ErrPermissionDenied means the position source is unavailable. Sampling
	// simply does not happen until access is granted again.
	ErrPermissionDenied = errors.New("position source permission denied")

	// ErrMalformedFix marks a fix with non-finite or out-of-range values
	ErrMalformedFix = errors.New("malformed fix")

	// ErrPreconditionViolation marks input that breaks a caller contract,
	// such as records that are not ordered by capture time
	ErrPreconditionViolation = errors.New("precondition violation")
)

// StorageError represents a read or write failure against the record store
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
