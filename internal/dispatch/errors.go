package dispatch

import (
	"fmt"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
)

// GatewayError is a provider rejection with the provider's own message text.
type GatewayError struct {
	Provider   string
	HTTPStatus int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("%s error %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.HTTPStatus)
}

// DispatchError reports a failed send. Error() is the provider's rejection text so it can be
// stored on the recipient record as-is.
type DispatchError struct {
	Channel contacts.Channel
	To      string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return "dispatch failed"
	}
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is makes every DispatchError match apperr.ErrProviderDispatchFailed.
func (e *DispatchError) Is(target error) bool {
	return target == apperr.ErrProviderDispatchFailed
}

// Code returns the provider error code when the gateway supplied one.
func (e *DispatchError) Code() string {
	if ge, ok := e.Err.(*GatewayError); ok {
		return ge.Code
	}
	return ""
}
