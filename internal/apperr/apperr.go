// Package apperr holds the error classes shared by every delivery component.
// Packages wrap these with their own sentinels; boundaries branch with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrComplianceDenied: the recipient is not eligible. Never retried automatically.
	ErrComplianceDenied = errors.New("compliance denied")
	// ErrProviderDispatchFailed: network or provider-side failure. Eligible for operator retry.
	ErrProviderDispatchFailed = errors.New("provider dispatch failed")
	ErrNotFound               = errors.New("not found")
	// ErrConfigurationMissing: a required credential or sender identity is absent.
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// HTTPStatus maps an error class to the status code used by the HTTP layer.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrComplianceDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrConfigurationMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrProviderDispatchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Class returns a stable label for logs and metrics.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrComplianceDenied):
		return "compliance_denied"
	case errors.Is(err, ErrConfigurationMissing):
		return "configuration_missing"
	case errors.Is(err, ErrProviderDispatchFailed):
		return "provider_dispatch_failed"
	default:
		return "internal"
	}
}
