package errors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Layers below the handlers wrap one of these so the
// handlers can pick an error code with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
)

// Invalidf returns a described error that matches ErrInvalid.
func Invalidf(format string, args ...interface{}) error {
	return kindf(ErrInvalid, format, args...)
}

// NotFoundf returns a described error that matches ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return kindf(ErrNotFound, format, args...)
}

func kindf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
