// Package services defines the business logic around stored incidents.
// This file centralizes service-level error values so that callers can check
// them with errors.Is and the exception handler registry can map them to HTTP
// responses.
package services

import "errors"

// Incident-related errors.
var (
	// ErrIncidentNotFound indicates that no incident was recorded under the
	// requested correlation code.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidIncidentCode is returned when a lookup code does not have the
	// shape of a generated correlation code.
	ErrInvalidIncidentCode = errors.New("invalid incident code")
)
