package delivery

import (
	"context"
	"errors"
	"fmt"
)

const (
	ErrorRateLimited         = "rate_limited"
	ErrorNotConnected        = "not_connected"
	ErrorDestinationNotFound = "destination_not_found"
	ErrorTransport           = "transport_error"
	ErrorUnexpectedEvent     = "unexpected_event"
	ErrorNoResult            = "no_result"
	ErrorCanceled            = "canceled"
)

// Sentinels for errors.Is. A categorized error matches the sentinel of its category.
var (
	ErrRateLimited         = &Error{Category: ErrorRateLimited}
	ErrNotConnected        = &Error{Category: ErrorNotConnected}
	ErrDestinationNotFound = &Error{Category: ErrorDestinationNotFound}
	ErrTransport           = &Error{Category: ErrorTransport}
	ErrUnexpectedEvent     = &Error{Category: ErrorUnexpectedEvent}
	ErrNoResult            = &Error{Category: ErrorNoResult}
	ErrCanceled            = &Error{Category: ErrorCanceled}
)

// Error represents a stable, categorized delivery failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// Is matches sentinels, which carry a category and no detail.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}

	return other.Detail == "" && other.Category == e.Category
}

// NewError creates a categorized delivery error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCanceled
	}

	return ErrorTransport
}

func normalizeTransportError(err error) error {
	if err == nil {
		return nil
	}

	category := CategoryFromError(err)
	if category == ErrorCanceled {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransport, err)
}
