// Package handlers defines the error types raised by the sample endpoints and
// the registry mappings that turn them into HTTP responses.
//
// Conventions:
//   - Handlers raise typed errors or sentinels through fail(); they never pick
//     a status code themselves.
//   - RegisterMappings is the single place that decides which of these errors
//     a client sees as a mapped 4xx and which stay unmapped (500 with a
//     correlation code).
//
// Example mapped response:
//
//	HTTP/1.1 400 Bad Request
//	{ "errorCode": null, "message": "Parameter required" }
package handlers

import (
	"fmt"
	"net/http"

	"github.com/tbourn/go-exception-handler/internal/registry"
	"github.com/tbourn/go-exception-handler/internal/services"
)

// ArgumentNullError is raised when a required parameter is missing.
type ArgumentNullError struct {
	Param string
}

func (e *ArgumentNullError) Error() string {
	return fmt.Sprintf("Value cannot be null.\nParameter name: %s", e.Param)
}

// KeyNotFoundError is raised when a lookup key is absent.
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	if e.Key == "" {
		return "The given key was not present in the dictionary."
	}
	return fmt.Sprintf("The given key '%s' was not present in the dictionary.", e.Key)
}

// CustomError is an application failure with no registry mapping.
type CustomError struct {
	Reason string
}

func (e *CustomError) Error() string {
	if e.Reason == "" {
		return "custom failure"
	}
	return "custom failure: " + e.Reason
}

// NotFoundBody is the opaque body sent for KeyNotFoundError.
type NotFoundBody struct {
	Title  string
	Status int
	Detail string `json:",omitempty"`
}

// RegisterMappings installs the responses for the errors raised by this
// package and by the services it calls. CustomError and plain errors are
// deliberately left unmapped.
func RegisterMappings(reg *registry.Registry) {
	registry.MapMessage[*ArgumentNullError](reg, http.StatusBadRequest, "Parameter required")
	registry.MapBody[*KeyNotFoundError](reg, http.StatusNotFound, NotFoundBody{
		Title:  "Not Found",
		Status: http.StatusNotFound,
	})
	registry.MapSentinel(reg, services.ErrIncidentNotFound, http.StatusNotFound, "Incident not found")
	registry.MapSentinel(reg, services.ErrInvalidIncidentCode, http.StatusBadRequest, "Invalid incident code")
}
