// Package errorsx defines the SecureConfirm error taxonomy shared across
// decision envelopes.
package errorsx

import "fmt"

// Kind classifies a terminal failure surfaced in a decision envelope.
type Kind string

const (
	InvalidRequest       Kind = "INVALID_REQUEST"
	NearRPCFailed        Kind = "NEAR_RPC_FAILED"
	UserCancelled        Kind = "USER_CANCELLED"
	PRFUnsupported       Kind = "PRF_UNSUPPORTED"
	PRFMissing           Kind = "PRF_MISSING"
	WrongPasskey         Kind = "WRONG_PASSKEY"
	VRFSessionMismatch   Kind = "VRF_SESSION_MISMATCH"
	VRFUnlockFailed      Kind = "VRF_UNLOCK_FAILED"
	SessionExpired       Kind = "SESSION_EXPIRED"
	SessionExhausted     Kind = "SESSION_EXHAUSTED"
	SessionNotFound      Kind = "SESSION_NOT_FOUND"
	IntentDigestMismatch Kind = "INTENT_DIGEST_MISMATCH"
	ConfirmationFailed   Kind = "CONFIRMATION_FAILED"
)

// ServiceError is the canonical error type returned by every component,
// carrying a taxonomy Kind alongside the underlying cause.
type ServiceError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

// New creates a ServiceError of the given kind with a message.
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

// Wrap creates a ServiceError of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// WithDetails returns a copy of the error with an additional detail key set.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, defaulting to ConfirmationFailed for
// any error that is not a *ServiceError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *ServiceError
	if As(err, &se) {
		return se.Kind
	}
	return ConfirmationFailed
}

// As is a thin indirection over errors.As kept local to avoid importing
// the standard errors package purely for this one call site in callers
// that already alias errorsx as their error package.
func As(err error, target **ServiceError) bool {
	for err != nil {
		if se, ok := err.(*ServiceError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
