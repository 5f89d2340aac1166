package idx

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Send triggers out-of-band delivery (email, SMS, push) for the capability
// and returns the resulting step. The remediation set usually stays the
// same; the response's messages reflect the delivery. There is no implicit
// retry; offering a resend is the caller's decision.
func (f *Flow) Send(ctx context.Context, capability *Sendable) (*StepOutcome, error) {
	if capability == nil {
		return nil, errors.New("nil sendable capability")
	}
	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	token := f.current.ContinuationToken
	f.mu.Unlock()

	log.Debug("triggering out-of-band send")
	return f.submitContinuation(ctx, capability.Target, capability.Href, token)
}

// Resend re-triggers out-of-band delivery after an initial send.
func (f *Flow) Resend(ctx context.Context, capability *Resendable) (*StepOutcome, error) {
	if capability == nil {
		return nil, errors.New("nil resendable capability")
	}
	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	token := f.current.ContinuationToken
	f.mu.Unlock()

	log.Debug("triggering out-of-band resend")
	return f.submitContinuation(ctx, capability.Target, capability.Href, token)
}

// Recover starts the recovery sub-flow of the capability's authenticator,
// typically a password reset.
func (f *Flow) Recover(ctx context.Context, capability *Recoverable) (*StepOutcome, error) {
	if capability == nil {
		return nil, errors.New("nil recoverable capability")
	}
	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	token := f.current.ContinuationToken
	f.mu.Unlock()

	log.Debug("invoking recover capability")
	return f.submitContinuation(ctx, capability.Target, capability.Href, token)
}
