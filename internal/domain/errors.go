package domain

import "errors"

var (
	// ErrNoTimeOrigin is returned when a source dataset has no time values to
	// anchor a template axis on.
	ErrNoTimeOrigin = errors.New("source has no time origin")

	// ErrTimeMismatch is returned when a batch's first or last timestamp is not
	// present in the destination time axis.
	ErrTimeMismatch = errors.New("batch time not found in destination axis")

	// ErrConstantRegion is returned when a region write includes a variable
	// without a time dimension.
	ErrConstantRegion = errors.New("constant variable in region write")

	// ErrUnalignedStart is returned when a job start is not on a chunk boundary
	// relative to the base date.
	ErrUnalignedStart = errors.New("start date not aligned to chunk boundary")

	// ErrIrregularTime is returned when a time axis is not strictly increasing
	// with a single fixed step.
	ErrIrregularTime = errors.New("time axis is not regular")

	// ErrShapeMismatch is returned when data does not match its declared dims.
	ErrShapeMismatch = errors.New("data shape does not match dimensions")

	// ErrUnknownVariable is returned when a named variable is not present.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrStoreNotInitialized is returned by region writes against a store that
	// has no template.
	ErrStoreNotInitialized = errors.New("store not initialized")

	// ErrStoreExists is returned when a template would overwrite an existing
	// store without explicit permission.
	ErrStoreExists = errors.New("store already exists")

	// ErrNoSourceFiles is returned when none of a job's source files exist.
	ErrNoSourceFiles = errors.New("no source files available")

	// ErrLabelConflict is returned when categories aggregated together do not
	// agree on their output labels.
	ErrLabelConflict = errors.New("aggregated categories disagree on time labels")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Storage and filesystem failures that may
// succeed on a later attempt are wrapped with it; logic errors are not.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or any error it wraps, was marked with
// [Transient].
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
