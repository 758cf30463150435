package cas

import "fmt"

// ConfigurationError is an error used to encode a missing or unusable
// setting detected while constructing an authenticator or client
// (these are fatal and reported synchronously, never per-request)
type ConfigurationError struct {
	Field string
}

// NewConfigurationError constructs a new ConfigurationError
func NewConfigurationError(field string) *ConfigurationError {
	return &ConfigurationError{
		Field: field,
	}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing or invalid configuration for the %s", e.Field)
}

// ValidationError is an error used to encode a rejected ticket
// or a network/protocol failure while talking to the CAS server.
// It is recoverable once via the automatic retry window
type ValidationError struct {
	Code    string
	Message string
}

// NewValidationError constructs a new ValidationError
func NewValidationError(code string, message string) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: message,
	}
}

func (e *ValidationError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("CAS ticket validation failed: %s", e.Message)
	}

	return fmt.Sprintf("CAS ticket validation failed (%s): %s", e.Code, e.Message)
}

// NoSessionError is an error used to encode that no session storage
// is available for the request at all
type NoSessionError struct{}

// NewNoSessionError constructs a new NoSessionError
func NewNoSessionError() *NoSessionError {
	return &NoSessionError{}
}

func (e *NoSessionError) Error() string {
	return "no session storage is available for the request"
}

// NotAuthenticatedError is an error used to encode that the session
// carries no CAS login record
type NotAuthenticatedError struct{}

// NewNotAuthenticatedError constructs a new NotAuthenticatedError
func NewNotAuthenticatedError() *NotAuthenticatedError {
	return &NotAuthenticatedError{}
}

func (e *NotAuthenticatedError) Error() string {
	return "the session has not been authenticated with CAS"
}

// MissingProxyGrantError is an error used to encode that the session was
// authenticated without capturing a proxy-granting ticket IOU
// (no PGT callback URL was configured, or the server does not proxy)
type MissingProxyGrantError struct{}

// NewMissingProxyGrantError constructs a new MissingProxyGrantError
func NewMissingProxyGrantError() *MissingProxyGrantError {
	return &MissingProxyGrantError{}
}

func (e *MissingProxyGrantError) Error() string {
	return "the session does not hold a proxy-granting ticket IOU"
}

// ApplicationError is an error used to encode a failure reported by the
// application's verify callback, distinct from a rejection
type ApplicationError struct {
	Inner error
}

// NewApplicationError constructs a new ApplicationError
func NewApplicationError(inner error) *ApplicationError {
	return &ApplicationError{
		Inner: inner,
	}
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("the verify callback reported an error: %s", e.Inner)
}

// Unwrap exposes the verify callback's original error
func (e *ApplicationError) Unwrap() error {
	return e.Inner
}
