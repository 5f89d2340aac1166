package idx

import (
	"context"
	"fmt"
	"time"

	u2fhost "github.com/marshallbrekka/go-u2fhost"
	log "github.com/sirupsen/logrus"
)

const (
	maxOpenRetries   = 10
	openRetryDelay   = 200 * time.Millisecond
	presenceTimeout  = 25 * time.Second
	presenceInterval = 250 * time.Millisecond
)

// RegistrationCredential is the attestation produced by a registration
// ceremony.
type RegistrationCredential struct {
	ClientData  string
	Attestation string
}

// AssertionCredential is the assertion produced by an authentication
// ceremony.
type AssertionCredential struct {
	ClientData        string
	SignatureData     string
	AuthenticatorData string
	KeyHandle         string
}

// WebAuthnClient bridges capability challenges to a platform hardware
// authenticator. Ceremony failures (user declined, no hardware present,
// timeout waiting for a touch) surface as ErrWebAuthnDeclined and leave the
// flow untouched; the user may pick a different authenticator.
type WebAuthnClient struct {
	// devices enumerates candidate hardware. Tests replace it.
	devices func() []u2fhost.Device
	timeout time.Duration
}

// NewWebAuthnClient builds a client over the attached hardware devices.
func NewWebAuthnClient() *WebAuthnClient {
	return &WebAuthnClient{
		devices: func() []u2fhost.Device {
			found := u2fhost.Devices()
			out := make([]u2fhost.Device, len(found))
			for i := range found {
				out[i] = found[i]
			}
			return out
		},
		timeout: presenceTimeout,
	}
}

// Register runs the attestation ceremony for a registration challenge.
func (c *WebAuthnClient) Register(capability *WebAuthnRegistration) (*RegistrationCredential, error) {
	if capability == nil {
		return nil, fmt.Errorf("nil webauthn registration capability")
	}
	device, err := c.openDevice()
	if err != nil {
		return nil, err
	}
	defer device.Close()

	request := &u2fhost.RegisterRequest{
		Challenge: capability.Challenge,
		AppId:     capability.RelyingPartyID,
		Facet:     capability.RelyingPartyID,
	}

	var cred *RegistrationCredential
	err = c.ceremony(func() (bool, error) {
		response, err := device.Register(request)
		if err != nil {
			return false, err
		}
		cred = &RegistrationCredential{
			ClientData:  response.ClientData,
			Attestation: response.RegistrationData,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Authenticate runs the assertion ceremony for an authentication challenge,
// trying each enrolled credential in turn.
func (c *WebAuthnClient) Authenticate(capability *WebAuthnAuthentication) (*AssertionCredential, error) {
	if capability == nil {
		return nil, fmt.Errorf("nil webauthn authentication capability")
	}
	device, err := c.openDevice()
	if err != nil {
		return nil, err
	}
	defer device.Close()

	keyHandles := capability.CredentialIDs
	if len(keyHandles) == 0 {
		keyHandles = []string{""}
	}

	var cred *AssertionCredential
	err = c.ceremony(func() (bool, error) {
		for _, kh := range keyHandles {
			request := &u2fhost.AuthenticateRequest{
				Challenge: capability.Challenge,
				AppId:     capability.RelyingPartyID,
				Facet:     capability.RelyingPartyID,
				KeyHandle: kh,
			}
			response, err := device.Authenticate(request)
			if err != nil {
				if _, ok := err.(*u2fhost.BadKeyHandleError); ok {
					continue
				}
				return false, err
			}
			cred = &AssertionCredential{
				ClientData:        response.ClientData,
				SignatureData:     response.SignatureData,
				AuthenticatorData: response.AuthenticatorData,
				KeyHandle:         kh,
			}
			return true, nil
		}
		return false, fmt.Errorf("no enrolled credential accepted by device: %w", ErrWebAuthnDeclined)
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// ceremony drives one attempt loop: ticks until the attempt completes, the
// user's touch is still awaited, or the timeout expires.
func (c *WebAuthnClient) ceremony(attempt func() (bool, error)) error {
	timeout := time.After(c.timeout)
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()

	prompted := false
	for {
		select {
		case <-timeout:
			return fmt.Errorf("no response from authenticator after %s: %w", c.timeout, ErrWebAuthnDeclined)
		case <-ticker.C:
			done, err := attempt()
			if done {
				return nil
			}
			if err == nil {
				continue
			}
			if _, ok := err.(*u2fhost.TestOfUserPresenceRequiredError); ok {
				if !prompted {
					log.Info("Touch the flashing security key to continue...")
					prompted = true
				}
				continue
			}
			return err
		}
	}
}

func (c *WebAuthnClient) openDevice() (u2fhost.Device, error) {
	all := c.devices()
	if len(all) == 0 {
		return nil, fmt.Errorf("no security key found, device might not be plugged in: %w", ErrWebAuthnDeclined)
	}

	var lastErr error
	for retry := 0; retry < maxOpenRetries; retry++ {
		for _, device := range all {
			if err := device.Open(); err != nil {
				log.Debugf("failed to open device: %s", err)
				device.Close()
				lastErr = err
				continue
			}
			return device, nil
		}
		time.Sleep(openRetryDelay)
	}
	return nil, fmt.Errorf("failed to open security key (%v): %w", lastErr, ErrWebAuthnDeclined)
}

// SubmitWebAuthnRegistration posts an attestation to the enrollment
// remediation's completion endpoint, exactly like a normal submission.
func (f *Flow) SubmitWebAuthnRegistration(ctx context.Context, cred *RegistrationCredential) (*StepOutcome, error) {
	return f.submitWebAuthn(ctx, RemediationEnrollAuthenticator, map[string]interface{}{
		"clientData":  cred.ClientData,
		"attestation": cred.Attestation,
	})
}

// SubmitWebAuthnAssertion posts an assertion to the challenge remediation's
// completion endpoint.
func (f *Flow) SubmitWebAuthnAssertion(ctx context.Context, cred *AssertionCredential) (*StepOutcome, error) {
	return f.submitWebAuthn(ctx, RemediationChallengeAuthenticator, map[string]interface{}{
		"clientData":        cred.ClientData,
		"signatureData":     cred.SignatureData,
		"authenticatorData": cred.AuthenticatorData,
	})
}

func (f *Flow) submitWebAuthn(ctx context.Context, t RemediationType, credentials map[string]interface{}) (*StepOutcome, error) {
	f.mu.Lock()
	if err := f.submittableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	rem := f.current.Remediation(t)
	if rem == nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("remediation %q: %w", t, ErrCannotProceed)
	}
	payload := map[string]interface{}{
		"credentials": credentials,
		"stateHandle": f.current.ContinuationToken,
	}
	f.inFlight = true
	f.mu.Unlock()

	log.Debug("submitting webauthn credential to ", rem.Name)
	resp, err := f.transport.Submit(ctx, rem.Name, rem.Href, payload)
	return f.finishSubmission(ctx, resp, err)
}
