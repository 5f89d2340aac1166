package idx

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers are expected to test for
// these with errors.Is; anything wrapping them carries additional context.
var (
	// ErrCannotProceed means no remediation usable for the requested action
	// exists on the current response.
	ErrCannotProceed = errors.New("no usable remediation available")

	// ErrUnexpectedAuthenticator means a challenge remediation arrived with
	// no authenticator attached to it.
	ErrUnexpectedAuthenticator = errors.New("remediation is missing an authenticator reference")

	// ErrNoStepHandler means the flow needed a caller decision (for example
	// an authenticator choice) but no handler was registered.
	ErrNoStepHandler = errors.New("no step handler registered for required choice")

	// ErrSuccessAlreadyExchanged means the success remediation for this flow
	// was already exchanged for a token.
	ErrSuccessAlreadyExchanged = errors.New("success response was already exchanged")

	// ErrSessionExpired means the current response expired before the
	// submission was attempted. No network call is made.
	ErrSessionExpired = errors.New("remediation session has expired")

	// ErrAlreadyInProgress means another submission is in flight on this
	// flow. The server-side state handle is single threaded, so overlapping
	// submissions are rejected instead of interleaved.
	ErrAlreadyInProgress = errors.New("another submission is already in progress")

	// ErrCancelled means the operation was cancelled by the caller.
	ErrCancelled = errors.New("cancelled by user")

	// ErrFlowNotStarted means Submit/Cancel/Exchange was called before Start.
	ErrFlowNotStarted = errors.New("flow has not been started")

	// ErrMissingRequiredField and ErrImmutableFieldModified are client-side
	// contract violations caught during form assembly, before any network
	// call.
	ErrMissingRequiredField   = errors.New("required field has no value")
	ErrImmutableFieldModified = errors.New("immutable field cannot be modified")
	ErrInvalidFieldValue      = errors.New("value does not match the field type")

	// ErrWebAuthnDeclined covers the user refusing (or the hardware being
	// unable to complete) a WebAuthn ceremony. Recoverable: the current
	// response is left unchanged and another authenticator may be chosen.
	ErrWebAuthnDeclined = errors.New("webauthn ceremony was not completed")
)

// ServerError is a server-reported protocol or validation error. It is
// non-fatal: the response that carried it still lists remediations and the
// same step can usually be retried with corrected input.
type ServerError struct {
	Code    string
	Summary string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return e.Summary
	}
	return fmt.Sprintf("%s (%s)", e.Summary, e.Code)
}

// FormError describes a contract violation found while assembling a form,
// identified by the dotted path of the offending field.
type FormError struct {
	Path string
	err  error
}

func (e *FormError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Path, e.err)
}

func (e *FormError) Unwrap() error { return e.err }

func missingRequired(path string) error {
	return &FormError{Path: path, err: ErrMissingRequiredField}
}

func immutableModified(path string) error {
	return &FormError{Path: path, err: ErrImmutableFieldModified}
}
