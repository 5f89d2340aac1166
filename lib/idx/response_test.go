package idx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseIdentify(t *testing.T) {
	resp := mustParse(t, identifyFixture)

	assert.Equal(t, "sh-1", resp.ContinuationToken)
	assert.Equal(t, time.Date(2035, 1, 1, 0, 0, 0, 0, time.UTC), resp.ExpiresAt.UTC())
	assert.False(t, resp.IsLoginSuccessful())
	assert.False(t, resp.Expired(time.Now()))

	rem := resp.Remediation(RemediationIdentify)
	require.NotNil(t, rem)
	assert.Equal(t, "identify", rem.Name)
	assert.Equal(t, "POST", rem.Method)
	assert.Equal(t, "https://example.okta.com/idp/idx/identify", rem.Href)
	require.NotNil(t, rem.Form.Field("identifier"))

	require.NotNil(t, resp.CancelRemediation)
	assert.Equal(t, RemediationCancel, resp.CancelRemediation.Type)
}

func TestParseResponseUnknownRemediation(t *testing.T) {
	resp := mustParse(t, `{
	  "stateHandle": "sh-x",
	  "remediation": {"value": [{"name": "brand-new-step", "href": "https://example.okta.com/idp/idx/new"}]}
	}`)

	require.Len(t, resp.Remediations, 1)
	rem := resp.Remediations[0]
	assert.True(t, rem.Type.IsUnknown())
	assert.Equal(t, "brand-new-step", rem.Name, "raw name survives for diagnostics")
	assert.Nil(t, resp.Remediation(RemediationIdentify))
}

func TestParseResponseAuthenticators(t *testing.T) {
	resp := mustParse(t, challengePollFixture)

	require.Len(t, resp.Authenticators, 1)
	authn := resp.Authenticators[0]
	assert.Equal(t, AuthenticatorKindApp, authn.Kind)
	assert.Equal(t, EnrollmentStateAuthenticating, authn.State)
	assert.True(t, authn.HasMethod("push"))

	poll := authn.Capabilities.Pollable()
	require.NotNil(t, poll)
	assert.Equal(t, 10*time.Millisecond, poll.Interval)
	assert.Equal(t, "sh-4", poll.ContinuationToken)
	require.NotNil(t, authn.Capabilities.Resendable())
	assert.Nil(t, authn.Capabilities.Sendable())

	// The challenge-poll remediation inherits the current authenticator.
	rem := resp.Remediation(RemediationChallengePoll)
	require.NotNil(t, rem)
	assert.Same(t, authn, rem.Authenticator())
	require.NotNil(t, rem.Capabilities.Pollable())
}

func TestParseResponseUnknownAuthenticatorKind(t *testing.T) {
	resp := mustParse(t, `{
	  "stateHandle": "sh-x",
	  "currentAuthenticator": {"value": {"id": "aut-1", "type": "retina_scan", "displayName": "Retina"}}
	}`)

	require.Len(t, resp.Authenticators, 1)
	kind := resp.Authenticators[0].Kind
	assert.True(t, kind.IsOther())
	assert.Equal(t, "retina_scan", kind.String())
	assert.Equal(t, AuthenticatorKindOther("retina_scan"), kind)
	assert.NotEqual(t, AuthenticatorKindOther("palm_scan"), kind)
}

func TestParseResponseMessages(t *testing.T) {
	resp := mustParse(t, challengeErrorFixture)

	require.Len(t, resp.Messages, 1)
	assert.Equal(t, MessageClassError, resp.Messages[0].Class)
	assert.Equal(t, "incorrectPassword", resp.Messages[0].Code)
	assert.Equal(t, "Password is incorrect", resp.Messages[0].Text)
	assert.Len(t, resp.ErrorMessages(), 1)

	// A response with error messages still offers the same step again.
	require.NotNil(t, resp.Remediation(RemediationChallengeAuthenticator))
}

func TestParseResponseSuccess(t *testing.T) {
	resp := mustParse(t, successFixture)

	assert.True(t, resp.IsLoginSuccessful())
	require.NotNil(t, resp.SuccessRemediation)
	assert.Equal(t, RemediationSuccess, resp.SuccessRemediation.Type)

	payload, err := AssembleForm(resp.SuccessRemediation.Form, nil)
	require.NoError(t, err)
	assert.Equal(t, "icode-1", payload["interaction_code"])
}

func TestParseResponseWebAuthn(t *testing.T) {
	resp := mustParse(t, webauthnChallengeFixture)

	require.Len(t, resp.Authenticators, 1)
	capability := resp.Authenticators[0].Capabilities.WebAuthnAuthentication()
	require.NotNil(t, capability)
	assert.Equal(t, "nonce-1", capability.Challenge)
	assert.Equal(t, "example.okta.com", capability.RelyingPartyID)
	assert.Equal(t, []string{"cred-1", "cred-2"}, capability.CredentialIDs)
}

func TestParseResponseSocialIDP(t *testing.T) {
	resp := mustParse(t, redirectIDPFixture)

	rem := resp.Remediation(RemediationRedirectIDP)
	require.NotNil(t, rem)
	capability := rem.Capabilities.SocialIDP()
	require.NotNil(t, capability)
	assert.Equal(t, "idp-1", capability.ID)
	assert.Equal(t, "Google", capability.Name)
	assert.Equal(t, rem.Href, capability.RedirectURL)
}

func TestParseResponsePasswordRecoverCapability(t *testing.T) {
	resp := mustParse(t, challengePasswordFixture)

	require.Len(t, resp.Authenticators, 1)
	rec := resp.Authenticators[0].Capabilities.Recoverable()
	require.NotNil(t, rec)
	assert.Equal(t, "https://example.okta.com/idp/idx/recover", rec.Href)
}

func TestResponseExpired(t *testing.T) {
	resp := mustParse(t, expiredFixture)
	assert.True(t, resp.Expired(time.Now()))
	assert.False(t, resp.Expired(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)))
}
