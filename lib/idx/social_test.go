package idx

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirectURI = "http://localhost:8080/login/callback"

func startedSocialSession(t *testing.T, tr *stubTransport) *SocialSession {
	t.Helper()
	f := startedFlow(t, tr, redirectIDPFixture)
	capability := f.CurrentResponse().Remediations[0].Capabilities.SocialIDP()
	require.NotNil(t, capability)
	assert.Equal(t, "Google", capability.Name)

	session, err := f.SocialRedirect(capability, testRedirectURI)
	require.NoError(t, err)
	return session
}

func TestSocialRedirectURLCarriesState(t *testing.T) {
	session := startedSocialSession(t, &stubTransport{})

	u, err := url.Parse(session.URL())
	require.NoError(t, err)
	assert.Equal(t, "example.okta.com", u.Host)
	assert.Equal(t, "/sso/idps/idp-1", u.Path)
	assert.Equal(t, "sh-8", u.Query().Get("stateToken"))
	assert.NotEmpty(t, u.Query().Get("state"))
}

func TestSocialOpenLaunchesBrowser(t *testing.T) {
	session := startedSocialSession(t, &stubTransport{})

	var opened string
	orig := LaunchBrowser
	LaunchBrowser = func(target string) error {
		opened = target
		return nil
	}
	defer func() { LaunchBrowser = orig }()

	require.NoError(t, session.Open())
	assert.Equal(t, session.URL(), opened)
}

func TestSocialClassify(t *testing.T) {
	session := startedSocialSession(t, &stubTransport{})
	callback := func(format string, args ...interface{}) *url.URL {
		u, err := url.Parse(fmt.Sprintf(format, args...))
		require.NoError(t, err)
		return u
	}

	assert.Equal(t, CallbackInvalidRedirectURL,
		session.Classify(callback("http://evil.example.com/login/callback?state=%s&interaction_code=ic-1", session.state)))
	assert.Equal(t, CallbackInvalidRedirectURL,
		session.Classify(callback("http://localhost:8080/other?state=%s&interaction_code=ic-1", session.state)))
	assert.Equal(t, CallbackInvalidContext,
		session.Classify(callback("%s?state=not-ours&interaction_code=ic-1", testRedirectURI)))
	assert.Equal(t, CallbackInvalidContext,
		session.Classify(callback("%s?state=%s", testRedirectURI, session.state)))
	assert.Equal(t, CallbackAuthenticated,
		session.Classify(callback("%s?state=%s&interaction_code=ic-1", testRedirectURI, session.state)))
	assert.Equal(t, CallbackRemediationRequired,
		session.Classify(callback("%s?state=%s&error=interaction_required", testRedirectURI, session.state)))
}

func TestSocialCallbackAuthenticated(t *testing.T) {
	tr := &stubTransport{
		exchangeCodeFn: func(code string) (*Token, error) {
			return &Token{AccessToken: "at-social", TokenType: "Bearer"}, nil
		},
	}
	session := startedSocialSession(t, tr)

	outcome, err := session.Callback(context.Background(),
		fmt.Sprintf("%s?state=%s&interaction_code=ic-1", testRedirectURI, session.state))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "at-social", outcome.Token.AccessToken)

	tr.mu.Lock()
	assert.Equal(t, []string{"ic-1"}, tr.exchangeCodes)
	tr.mu.Unlock()

	// The interaction code grant is one shot for the whole flow.
	_, err = session.flow.Exchange(context.Background())
	assert.ErrorIs(t, err, ErrSuccessAlreadyExchanged)
}

func TestSocialCallbackRemediationRequired(t *testing.T) {
	tr := &stubTransport{
		introspectFn: func(token string) (*Response, error) {
			return mustParse(t, selectAuthenticatorFixture), nil
		},
	}
	session := startedSocialSession(t, tr)

	outcome, err := session.Callback(context.Background(),
		fmt.Sprintf("%s?state=%s&error=interaction_required", testRedirectURI, session.state))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsInput, outcome.Kind)

	assert.Equal(t, []string{"sh-8"}, tr.introspects)
	assert.Equal(t, "sh-2", session.flow.CurrentResponse().ContinuationToken)
}

func TestSocialCallbackInvalid(t *testing.T) {
	tr := &stubTransport{}
	session := startedSocialSession(t, tr)

	_, err := session.Callback(context.Background(),
		fmt.Sprintf("http://evil.example.com/login/callback?state=%s&interaction_code=ic-1", session.state))
	assert.ErrorIs(t, err, ErrInvalidRedirectURL)

	_, err = session.Callback(context.Background(),
		fmt.Sprintf("%s?state=not-ours&interaction_code=ic-1", testRedirectURI))
	assert.ErrorIs(t, err, ErrInvalidCallbackContext)

	assert.Zero(t, tr.exchangeCount())
	assert.Zero(t, tr.introspectCount())
}
