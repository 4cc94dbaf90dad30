package domain

import (
	"errors"
	"strconv"
)

// Process exit statuses.
const (
	ExitSuccess           = 0
	ExitInternalError     = 1
	ExitUserError         = 2
	ExitAutomaticShutdown = 3
)

// UserError is a failure caused by the caller's input: bad arguments, an unreadable
// input file, or compile and execute diagnostics. Its text is shown to the caller as is.
type UserError struct {
	message string
}

// NewUserError returns a user error with the given message.
func NewUserError(message string) error {
	return &UserError{message: message}
}

func (e *UserError) Error() string {
	return e.message
}

// IsUserError reports whether err is or wraps a UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// ExitError reports that a command finished with a non-zero status whose
// explanation has already been written to the caller.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Status)
}

// ExitStatusOf maps an error to the process exit status.
func ExitStatusOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Status
	}
	if IsUserError(err) {
		return ExitUserError
	}
	return ExitInternalError
}
