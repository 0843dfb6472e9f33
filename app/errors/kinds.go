package errors

import "errors"

// Error kinds. Specific errors wrap one of these, so callers can match on the
// broad category with errors.Is, regardless of the concrete failure.
var (
	// ErrInvalidArgument is returned for malformed input, e.g. a bad owner
	// address, port count or mode/field mismatch.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is returned when the request contradicts existing state.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when the target of an operation doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrExternalCommand is returned when programming the firewall or another
	// OS-level facility fails.
	ErrExternalCommand = errors.New("external command failed")
	// ErrIO is returned for store or file access failures.
	ErrIO = errors.New("I/O failure")
)

// Kind returns the error kind err belongs to, or nil if it doesn't wrap any of
// the known kinds.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidArgument, ErrConflict, ErrNotFound, ErrExternalCommand, ErrIO,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewKind returns an error with the given message that matches kind with
// errors.Is.
func NewKind(msg string, kind error) error {
	return &kindError{msg: msg, kind: kind}
}
