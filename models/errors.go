package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownService       = errors.New("unknown service")
	ErrUnknownDirection     = errors.New("unknown direction")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrClientNotFound       = errors.New("client not found")
	ErrPersistence          = errors.New("store persistence failure")
	ErrMalformedStore       = errors.New("malformed store")
	ErrInvalidConsent       = errors.New("mailing consent must be Yes or No")
)

type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("service %q is not in the price list (available: %s)",
		e.Service, strings.Join(ServiceNames(), ", "))
}

func (e *UnknownServiceError) Unwrap() error { return ErrUnknownService }

type UnknownDirectionError struct {
	Direction string
}

func (e *UnknownDirectionError) Error() string {
	names := make([]string, len(CommercialDirections))
	for i, d := range CommercialDirections {
		names[i] = string(d)
	}
	return fmt.Sprintf("direction %q is not known (available: %s)",
		e.Direction, strings.Join(names, ", "))
}

func (e *UnknownDirectionError) Unwrap() error { return ErrUnknownDirection }

// MissingFieldsError names every absent identity field, by column name.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Unwrap() error { return ErrMissingRequiredField }

// ClientNotFoundError is returned by history lookups by display name.
type ClientNotFoundError struct {
	Name string
}

func (e *ClientNotFoundError) Error() string {
	return fmt.Sprintf("client %q not found", e.Name)
}

func (e *ClientNotFoundError) Unwrap() error { return ErrClientNotFound }

// IsValidation reports whether err rejects user input (as opposed to an
// infrastructure failure).
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownService) ||
		errors.Is(err, ErrUnknownDirection) ||
		errors.Is(err, ErrMissingRequiredField) ||
		errors.Is(err, ErrInvalidConsent)
}
