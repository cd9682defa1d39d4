package format

import "errors"

// reportedError marks an error that was already shown to the user.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Reported wraps err so the entry point does not print it a second time.
// Error codes and errors.Is matching still see the original error.
func Reported(err error) error {
	if err == nil || IsReported(err) {
		return err
	}
	return &reportedError{err: err}
}

// IsReported reports whether err was wrapped by Reported.
func IsReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}
