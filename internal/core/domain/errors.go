package domain

import (
	"errors"
	"fmt"
)

var (
	ErrClaimNotFound      = errors.New("claim not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTemporary          = errors.New("temporary failure")
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrCorruptDocument    = errors.New("corrupt document content")
	ErrNoTextExtracted    = errors.New("no text extracted")
	ErrExtractionInvalid  = errors.New("extraction validation failed")
	ErrMaxRetriesExceeded = errors.New("max retries reached")
	ErrAlreadyProcessing  = errors.New("claim is already processing")
	ErrTooManyRequests    = errors.New("too many in-flight requests")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
