package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden means the actor may not act on the conversation.
	ErrForbidden = errors.New("not allowed to act on this conversation")
	// ErrValidation wraps input problems on explicit agent actions.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the conversation, status or quotation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means the conversation changed underneath the request.
	ErrStatusConflict = errors.New("conversation was modified concurrently")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
}
