package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
)

var location = regexp.MustCompile(`\[(?:[^\[\]\s]+\.go:\d+|\?\?\?:0)\] `)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// Sentinel creates a plain error without location information. Use it for
// package-level values that callers compare with Is.
func Sentinel(msg string) error {
	return stderrors.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// Message returns err's text without the file and line prefixes added by
// New and Wrapf. Use it for text shown to users or models.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return location.ReplaceAllString(err.Error(), "")
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
