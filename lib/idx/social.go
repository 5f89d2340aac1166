package idx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// LaunchBrowser opens a URL in the user's external browser. Tests replace
// it with a stub.
var LaunchBrowser = open.Run

// CallbackClassification is the outcome of inspecting a social identity
// provider callback URL.
type CallbackClassification int

const (
	// CallbackAuthenticated means the provider returned an interaction code
	// that can be exchanged directly for a token.
	CallbackAuthenticated CallbackClassification = iota
	// CallbackRemediationRequired means the provider round trip completed
	// but the flow must resume with further remediation.
	CallbackRemediationRequired
	// CallbackInvalidContext means the callback does not belong to this
	// session (state mismatch or missing parameters).
	CallbackInvalidContext
	// CallbackInvalidRedirectURL means the callback does not match the
	// client's configured redirect URI.
	CallbackInvalidRedirectURL
)

var (
	// ErrInvalidRedirectURL reports a callback on the wrong redirect URI.
	ErrInvalidRedirectURL = errors.New("callback does not match the redirect uri")
	// ErrInvalidCallbackContext reports a callback that does not belong to
	// this session.
	ErrInvalidCallbackContext = errors.New("callback does not belong to this session")
)

// SocialSession is one external browser round trip against a federated
// identity provider. It owns redirect URL construction and callback
// classification; the flow itself never touches browser state.
type SocialSession struct {
	flow        *Flow
	redirectURI *url.URL
	authorizeTo string
	state       string
}

// SocialRedirect prepares a browser round trip for the capability. The
// redirect URI is the one registered for the client; callbacks are
// validated against it.
func (f *Flow) SocialRedirect(capability *SocialIDP, redirectURI string) (*SocialSession, error) {
	if capability == nil {
		return nil, errors.New("nil social idp capability")
	}
	ru, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect uri: %w", err)
	}
	return &SocialSession{
		flow:        f,
		redirectURI: ru,
		authorizeTo: capability.RedirectURL,
		state:       uuid.NewString(),
	}, nil
}

// URL is the provider authorization URL the browser must visit.
func (s *SocialSession) URL() string {
	u, err := url.Parse(s.authorizeTo)
	if err != nil {
		return s.authorizeTo
	}
	q := u.Query()
	q.Set("state", s.state)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open launches the external browser at the authorization URL.
func (s *SocialSession) Open() error {
	target := s.URL()
	log.Debug("opening browser for idp redirect: ", target)
	return LaunchBrowser(target)
}

// Classify inspects a callback URL without acting on it.
func (s *SocialSession) Classify(callback *url.URL) CallbackClassification {
	if !strings.EqualFold(callback.Scheme, s.redirectURI.Scheme) ||
		!strings.EqualFold(callback.Host, s.redirectURI.Host) ||
		callback.Path != s.redirectURI.Path {
		return CallbackInvalidRedirectURL
	}
	q := callback.Query()
	if q.Get("state") != s.state {
		return CallbackInvalidContext
	}
	if q.Get("interaction_code") != "" {
		return CallbackAuthenticated
	}
	if q.Get("error") == "interaction_required" {
		return CallbackRemediationRequired
	}
	return CallbackInvalidContext
}

// Callback consumes the callback URL received from the browser. An
// authenticated callback is exchanged directly for a token, bypassing
// further remediation; a remediation-required callback resumes the flow
// with a fresh response.
func (s *SocialSession) Callback(ctx context.Context, rawCallback string) (*StepOutcome, error) {
	cb, err := url.Parse(rawCallback)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidRedirectURL)
	}
	switch s.Classify(cb) {
	case CallbackAuthenticated:
		return s.flow.exchangeInteractionCode(ctx, cb.Query().Get("interaction_code"))
	case CallbackRemediationRequired:
		return s.flow.resume(ctx)
	case CallbackInvalidRedirectURL:
		return nil, ErrInvalidRedirectURL
	default:
		return nil, ErrInvalidCallbackContext
	}
}

// exchangeInteractionCode redeems an out-of-band interaction code. The
// one-shot exchange guarantee is shared with Exchange.
func (f *Flow) exchangeInteractionCode(ctx context.Context, code string) (*StepOutcome, error) {
	f.mu.Lock()
	if f.exchanged {
		f.mu.Unlock()
		return nil, ErrSuccessAlreadyExchanged
	}
	f.exchanged = true
	f.mu.Unlock()

	log.Debug("exchanging idp interaction code for token")
	token, err := f.transport.ExchangeCode(ctx, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = stateFailed
		return nil, err
	}
	f.token = token
	f.state = stateSucceeded
	return &StepOutcome{Kind: OutcomeSuccess, Token: token}, nil
}

// resume refreshes the flow after an external round trip that requires
// further remediation.
func (f *Flow) resume(ctx context.Context) (*StepOutcome, error) {
	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	token := f.current.ContinuationToken
	f.mu.Unlock()

	resp, err := f.transport.Introspect(ctx, token)
	return f.finishSubmission(ctx, resp, err)
}
