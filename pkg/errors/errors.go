// Package errors annotates errors with the location they were created or wrapped at. Errors
// created here work with the standard library errors.Is and errors.As.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// New creates an error annotated with the caller location.
func New(msg string) error {
	return fmt.Errorf("%s %s", msg, filePath(2))
}

func Errorf(format string, a ...interface{}) error {
	return fmt.Errorf("%s %s", fmt.Sprintf(format, a...), filePath(2))
}

// Wrap creates a new error by wrapping an existing error.
func Wrap(err error, msg string) error {
	return fmt.Errorf("%s %s \ncaused by: %w", msg, filePath(2), err)
}

func Wrapf(err error, msg string, a ...interface{}) error {
	return fmt.Errorf("%s %s \ncaused by: %w", fmt.Sprintf(msg, a...), filePath(2), err)
}

// Is reports whether any error in err chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// filePath returns the location in which the error occurred.
func filePath(frameSkip int) string {
	pc, f, l, ok := runtime.Caller(frameSkip) // nolint
	fn := `unknown`
	if ok {
		fn = runtime.FuncForPC(pc).Name()
	}

	return fmt.Sprintf("at %s\n\t%s:%d", fn, f, l)
}
