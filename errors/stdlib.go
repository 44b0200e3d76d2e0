package errors

import (
	"github.com/gostdlib/base/errors"
	pkgerrors "github.com/pkg/errors"
)

// Everything below here is a wrapper around the stdlib errors package and github.com/pkg/errors.
// We do this to prevent having to import several errors packages in every file that needs it.

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target, and if so, sets
// target to that error value and returns true.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors. Any nil error values are discarded.
// Join returns nil if every value in errs is nil.
func Join(err ...error) error {
	return errors.Join(err...)
}

// Wrap returns an error annotating err with a stack trace at the point Wrap is called
// and the supplied message. If err is nil, Wrap returns nil.
func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

// Wrapf is Wrap with a format specifier.
func Wrapf(err error, format string, args ...any) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// Errorf formats according to a format specifier and returns the string as an
// error that records a stack trace.
func Errorf(format string, args ...any) error {
	return pkgerrors.Errorf(format, args...)
}
