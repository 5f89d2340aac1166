package idx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Transport is the "send form, get next response" primitive the flow is
// built on. Implementations must return the next Response whenever the
// server produced one, even when it carries error messages: step-level
// validation failures are remediable and ride on the response. A *ServerError
// is returned only when the server rejected the call without a usable
// response; any other error is a transport failure.
type Transport interface {
	// Interact starts a new server-side transaction and returns its first
	// response.
	Interact(ctx context.Context) (*Response, error)

	// Submit posts an assembled payload to a remediation or capability
	// continuation and returns the next response.
	Submit(ctx context.Context, name, href string, payload map[string]interface{}) (*Response, error)

	// Introspect refreshes the state of a pending transaction. Polling is
	// built on this.
	Introspect(ctx context.Context, continuationToken string) (*Response, error)

	// Exchange turns a success remediation into a token.
	Exchange(ctx context.Context, success *Remediation) (*Token, error)

	// ExchangeCode redeems an interaction code received out of band, for
	// example on a social identity provider callback.
	ExchangeCode(ctx context.Context, interactionCode string) (*Token, error)
}

// StepHandler is consulted when the flow needs a caller decision it cannot
// make on its own, such as picking between offered authenticators.
type StepHandler interface {
	ChooseAuthenticator(options []AuthenticatorOption) (int, error)
}

// AuthenticatorOption is one selectable authenticator choice.
type AuthenticatorOption struct {
	Label string
	Kind  AuthenticatorKind
}

// OutcomeKind tags a StepOutcome.
type OutcomeKind int

const (
	// OutcomeNeedsInput means the server returned another remediation step.
	OutcomeNeedsInput OutcomeKind = iota
	// OutcomeSuccess means login completed and the token was exchanged.
	OutcomeSuccess
)

// StepOutcome is the result of one state transition. Either Response is set
// (more input needed) or Token is set (login complete).
type StepOutcome struct {
	Kind     OutcomeKind
	Response *Response
	Token    *Token
}

type flowState int

const (
	stateNotStarted flowState = iota
	stateAwaitingRemediation
	stateSucceeded
	stateFailed
)

func (s flowState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateAwaitingRemediation:
		return "awaiting-remediation"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Flow drives a remediation-based authentication transaction to completion.
// It owns the current response exclusively; collaborators only ever see
// immutable snapshots. State transitions are serialized: one submission,
// cancel, or poll-result application at a time, with overlapping attempts
// rejected rather than interleaved.
type Flow struct {
	mu        sync.Mutex
	transport Transport
	handler   StepHandler

	password       string
	recoveryIntent bool

	state     flowState
	current   *Response
	token     *Token
	exchanged bool
	inFlight  bool
	poller    *Poller

	now func() time.Time
}

// FlowOption configures a Flow at construction time.
type FlowOption func(*Flow)

// WithStepHandler registers the collaborator consulted for authenticator
// choices the flow cannot make automatically.
func WithStepHandler(h StepHandler) FlowOption {
	return func(f *Flow) { f.handler = h }
}

// WithPassword makes a known password available to the flow. It enables the
// auto-select policy: when a select-authenticator step offers the password
// authenticator, it is chosen without surfacing the choice.
func WithPassword(password string) FlowOption {
	return func(f *Flow) { f.password = password }
}

// WithRecoveryIntent switches the flow into account-recovery mode: when the
// active authenticator at an identify or challenge step is a password
// authenticator, its recover capability is invoked instead of waiting for a
// password value.
func WithRecoveryIntent() FlowOption {
	return func(f *Flow) { f.recoveryIntent = true }
}

// NewFlow builds a flow over the given transport. The flow holds no global
// state; every instance is independent.
func NewFlow(transport Transport, opts ...FlowOption) *Flow {
	f := &Flow{
		transport: transport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start begins a new transaction and makes its first response current.
// Starting again after a cancel or failure produces a fresh, independent
// session.
func (f *Flow) Start(ctx context.Context) (*Response, error) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}
	f.inFlight = true
	f.mu.Unlock()

	log.Debug("starting idx flow")
	resp, err := f.transport.Interact(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.inFlight = false
		f.state = stateFailed
		return nil, err
	}
	f.stopPollerLocked()
	f.inFlight = false
	f.state = stateAwaitingRemediation
	f.current = resp
	f.token = nil
	f.exchanged = false
	return resp, nil
}

// CurrentResponse returns the current snapshot, or nil before Start.
func (f *Flow) CurrentResponse() *Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Submit assembles values against the named remediation's form, posts it,
// and replaces the current response with the server's next one. When the
// next response is successful the token is exchanged immediately and the
// outcome carries it.
//
// Contract violations (missing required fields, modified immutable fields)
// are detected locally and never reach the network. A response whose
// messages report a step-level error is still a normal NeedsInput outcome:
// the caller surfaces the messages and may retry the same step.
func (f *Flow) Submit(ctx context.Context, t RemediationType, values map[string]interface{}) (*StepOutcome, error) {
	f.mu.Lock()
	if err := f.submittableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	cur := f.current
	rem := cur.Remediation(t)
	if rem == nil || rem.Type.IsUnknown() {
		f.mu.Unlock()
		return nil, fmt.Errorf("remediation %q: %w", t, ErrCannotProceed)
	}
	if t == RemediationChallengeAuthenticator && rem.Authenticator() == nil {
		f.mu.Unlock()
		return nil, ErrUnexpectedAuthenticator
	}

	if rec := f.recoveryTargetLocked(rem); rec != nil {
		f.mu.Unlock()
		log.Debug("recovery intent: invoking recover capability instead of ", rem.Name)
		return f.submitContinuation(ctx, rec.Target, rec.Href, cur.ContinuationToken)
	}

	values = f.autoSelectLocked(rem, values)

	payload, err := AssembleForm(rem.Form, values)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.inFlight = true
	f.mu.Unlock()

	log.Debug("submitting remediation ", rem.Name)
	resp, err := f.transport.Submit(ctx, rem.Name, rem.Href, payload)
	return f.finishSubmission(ctx, resp, err)
}

// Cancel submits the current response's cancel remediation. The returned
// response (typically a restarted transaction) becomes current.
func (f *Flow) Cancel(ctx context.Context) (*Response, error) {
	f.mu.Lock()
	if err := f.submittableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	cancel := f.current.CancelRemediation
	if cancel == nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("response has no cancel remediation: %w", ErrCannotProceed)
	}
	payload, err := AssembleForm(cancel.Form, nil)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.inFlight = true
	f.mu.Unlock()

	log.Debug("cancelling idx flow")
	resp, err := f.transport.Submit(ctx, cancel.Name, cancel.Href, payload)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.inFlight = false
		if _, ok := err.(*ServerError); !ok {
			f.state = stateFailed
		}
		return nil, err
	}
	f.stopPollerLocked()
	f.inFlight = false
	f.current = resp
	f.state = stateAwaitingRemediation
	return resp, nil
}

// Exchange turns the success remediation into a token. It may be called at
// most once per flow; Submit already exchanges on reaching success, so
// callers only use this when they reached success through a capability
// handler that returned a response.
func (f *Flow) Exchange(ctx context.Context) (*Token, error) {
	f.mu.Lock()
	if f.state == stateNotStarted {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	if f.exchanged {
		f.mu.Unlock()
		return nil, ErrSuccessAlreadyExchanged
	}
	if f.current == nil || !f.current.IsLoginSuccessful() {
		f.mu.Unlock()
		return nil, fmt.Errorf("response is not successful: %w", ErrCannotProceed)
	}
	success := f.current.SuccessRemediation
	f.exchanged = true
	f.mu.Unlock()

	log.Debug("exchanging success remediation for token")
	token, err := f.transport.Exchange(ctx, success)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = stateFailed
		return nil, err
	}
	f.token = token
	f.state = stateSucceeded
	return token, nil
}

// SelectAuthenticator resolves a select-authenticator step: the password
// auto-select policy applies first; otherwise the registered step handler is
// consulted. Without a handler the flow cannot proceed.
func (f *Flow) SelectAuthenticator(ctx context.Context, t RemediationType) (*StepOutcome, error) {
	if t != RemediationSelectAuthenticatorAuth && t != RemediationSelectAuthenticatorEnroll {
		return nil, fmt.Errorf("remediation %q is not an authenticator selection: %w", t, ErrCannotProceed)
	}

	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	rem := f.current.Remediation(t)
	if rem == nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("remediation %q: %w", t, ErrCannotProceed)
	}
	field := selectionField(rem.Form)
	if field == nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("selection form has no options: %w", ErrCannotProceed)
	}
	autoSelect := f.password != "" && passwordOption(field) != nil
	var options []AuthenticatorOption
	if !autoSelect {
		for _, opt := range field.Options {
			options = append(options, AuthenticatorOption{
				Label: opt.Label,
				Kind:  optionKind(&opt),
			})
		}
	}
	handler := f.handler
	f.mu.Unlock()

	if autoSelect {
		// Submit applies the auto-select policy itself.
		return f.Submit(ctx, t, nil)
	}
	if handler == nil {
		return nil, ErrNoStepHandler
	}
	choice, err := handler.ChooseAuthenticator(options)
	if err != nil {
		return nil, err
	}
	if choice < 0 || choice >= len(options) {
		return nil, fmt.Errorf("step handler returned invalid choice %d: %w", choice, ErrCannotProceed)
	}
	return f.Submit(ctx, t, map[string]interface{}{field.Name: options[choice].Label})
}

// submitContinuation posts a capability continuation (send, resend, recover,
// webauthn completion) through the transport. Capability handlers route all
// their submissions here so state transitions stay centralized.
func (f *Flow) submitContinuation(ctx context.Context, name, href, continuationToken string) (*StepOutcome, error) {
	f.mu.Lock()
	if err := f.submittableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.inFlight = true
	f.mu.Unlock()

	payload := map[string]interface{}{"stateHandle": continuationToken}
	resp, err := f.transport.Submit(ctx, name, href, payload)
	return f.finishSubmission(ctx, resp, err)
}

// finishSubmission applies the transport result of a submission: the new
// response replaces the current one wholesale, and a successful response is
// exchanged for a token right away.
func (f *Flow) finishSubmission(ctx context.Context, resp *Response, err error) (*StepOutcome, error) {
	f.mu.Lock()
	if err != nil {
		f.inFlight = false
		if _, ok := err.(*ServerError); !ok {
			f.state = stateFailed
		}
		f.mu.Unlock()
		return nil, err
	}
	// The poller is wound down before inFlight clears so a poll result
	// cannot land between the two.
	f.stopPollerLocked()
	f.inFlight = false
	f.current = resp
	f.state = stateAwaitingRemediation
	successful := resp.IsLoginSuccessful()
	f.mu.Unlock()

	if successful {
		token, err := f.Exchange(ctx)
		if err != nil {
			return nil, err
		}
		return &StepOutcome{Kind: OutcomeSuccess, Token: token}, nil
	}
	return &StepOutcome{Kind: OutcomeNeedsInput, Response: resp}, nil
}

func (f *Flow) submittableLocked() error {
	switch {
	case f.state == stateNotStarted:
		return ErrFlowNotStarted
	case f.state == stateSucceeded:
		return fmt.Errorf("flow already succeeded: %w", ErrCannotProceed)
	case f.state == stateFailed:
		return fmt.Errorf("flow has failed, start a new one: %w", ErrCannotProceed)
	case f.inFlight:
		return ErrAlreadyInProgress
	case f.current == nil:
		return ErrFlowNotStarted
	case f.current.Expired(f.now()):
		return ErrSessionExpired
	}
	return nil
}

// recoveryTargetLocked applies the recovery-intent policy: with no password
// in the session and recovery intent set, an identify or password-challenge
// step is answered by invoking the password authenticator's recover
// capability.
func (f *Flow) recoveryTargetLocked(rem *Remediation) *Recoverable {
	if !f.recoveryIntent || f.password != "" {
		return nil
	}
	if rem.Type != RemediationIdentify && rem.Type != RemediationChallengeAuthenticator {
		return nil
	}
	for _, a := range rem.Authenticators {
		if a.Kind == AuthenticatorKindPassword {
			if rec := a.Capabilities.Recoverable(); rec != nil {
				return rec
			}
		}
	}
	for _, a := range f.current.Authenticators {
		if a.Kind == AuthenticatorKindPassword {
			if rec := a.Capabilities.Recoverable(); rec != nil {
				return rec
			}
		}
	}
	return nil
}

// autoSelectLocked injects the password option into the values for a
// select-authenticator step when a password is already known. The caller's
// map is never mutated.
func (f *Flow) autoSelectLocked(rem *Remediation, values map[string]interface{}) map[string]interface{} {
	if f.password == "" {
		return values
	}
	if rem.Type != RemediationSelectAuthenticatorAuth && rem.Type != RemediationSelectAuthenticatorEnroll {
		return values
	}
	field := selectionField(rem.Form)
	if field == nil {
		return values
	}
	if _, ok := values[field.Name]; ok {
		return values
	}
	opt := passwordOption(field)
	if opt == nil {
		return values
	}
	log.Debug("auto-selecting password authenticator")
	merged := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		merged[k] = v
	}
	merged[field.Name] = opt.Label
	return merged
}

// selectionField returns the form's options-bearing field.
func selectionField(form *Form) *Field {
	if form == nil {
		return nil
	}
	for i := range form.Fields {
		if len(form.Fields[i].Options) > 0 {
			return &form.Fields[i]
		}
	}
	return nil
}

func passwordOption(field *Field) *Field {
	for i := range field.Options {
		if strings.EqualFold(field.Options[i].Label, "password") {
			return &field.Options[i]
		}
	}
	return nil
}

func optionKind(opt *Field) AuthenticatorKind {
	return authenticatorKindFromWire(strings.ToLower(opt.Label))
}
