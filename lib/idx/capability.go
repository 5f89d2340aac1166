package idx

import "time"

// Capability is auxiliary behavior attached to an authenticator or a
// remediation beyond plain form submission. Each variant owns the data its
// side protocol needs. A capability set holds at most one instance of each
// kind.
type Capability interface {
	capabilityName() string
}

// CapabilitySet is the heterogeneous capability collection of one owner.
// Lookup is by concrete type through the typed accessors below.
type CapabilitySet []Capability

func (s CapabilitySet) find(name string) Capability {
	for _, c := range s {
		if c.capabilityName() == name {
			return c
		}
	}
	return nil
}

// Pollable describes a continuation that must be re-introspected until a
// terminal response arrives.
type Pollable struct {
	// Interval between introspection calls, as suggested by the server.
	Interval time.Duration
	// ContinuationToken identifies the pending transaction.
	ContinuationToken string
}

func (*Pollable) capabilityName() string { return "poll" }

// Sendable triggers out-of-band delivery (email, SMS, push).
type Sendable struct {
	Target string
	Href   string
}

func (*Sendable) capabilityName() string { return "send" }

// Resendable re-triggers out-of-band delivery after the first send.
type Resendable struct {
	Target string
	Href   string
}

func (*Resendable) capabilityName() string { return "resend" }

// Recoverable starts the recovery sub-flow of an authenticator, typically
// password reset.
type Recoverable struct {
	Target string
	Href   string
}

func (*Recoverable) capabilityName() string { return "recover" }

// ProfileData carries the (usually masked) profile attributes the server
// associates with an authenticator, such as "e***@example.com".
type ProfileData struct {
	Attributes map[string]string
}

func (*ProfileData) capabilityName() string { return "profile" }

// OTP carries the shared secret for authenticator-app enrollment.
type OTP struct {
	SharedSecret string
	QRCodeURI    string
}

func (*OTP) capabilityName() string { return "otp" }

// Duo carries the embedded Duo widget context.
type Duo struct {
	Host        string
	SignedToken string
	Script      string
}

func (*Duo) capabilityName() string { return "duo" }

// NumberChallenge is the number-matching push challenge: the user must pick
// CorrectAnswer on their device.
type NumberChallenge struct {
	CorrectAnswer string
}

func (*NumberChallenge) capabilityName() string { return "number_challenge" }

// SocialIDP describes a federated identity provider redirect.
type SocialIDP struct {
	ID          string
	Name        string
	RedirectURL string
}

func (*SocialIDP) capabilityName() string { return "social_idp" }

// WebAuthnRegistration carries the server challenge for a credential
// registration (attestation) ceremony.
type WebAuthnRegistration struct {
	RelyingPartyID string
	Challenge      string
	UserID         string
	UserName       string
	DisplayName    string
}

func (*WebAuthnRegistration) capabilityName() string { return "webauthn_registration" }

// WebAuthnAuthentication carries the server challenge for an assertion
// ceremony.
type WebAuthnAuthentication struct {
	RelyingPartyID string
	Challenge      string
	CredentialIDs  []string
}

func (*WebAuthnAuthentication) capabilityName() string { return "webauthn_authentication" }

// Typed accessors. Each returns the single instance of its kind, or nil.

func (s CapabilitySet) Pollable() *Pollable {
	if c := s.find("poll"); c != nil {
		return c.(*Pollable)
	}
	return nil
}

func (s CapabilitySet) Sendable() *Sendable {
	if c := s.find("send"); c != nil {
		return c.(*Sendable)
	}
	return nil
}

func (s CapabilitySet) Resendable() *Resendable {
	if c := s.find("resend"); c != nil {
		return c.(*Resendable)
	}
	return nil
}

func (s CapabilitySet) Recoverable() *Recoverable {
	if c := s.find("recover"); c != nil {
		return c.(*Recoverable)
	}
	return nil
}

func (s CapabilitySet) Profile() *ProfileData {
	if c := s.find("profile"); c != nil {
		return c.(*ProfileData)
	}
	return nil
}

func (s CapabilitySet) OTP() *OTP {
	if c := s.find("otp"); c != nil {
		return c.(*OTP)
	}
	return nil
}

func (s CapabilitySet) Duo() *Duo {
	if c := s.find("duo"); c != nil {
		return c.(*Duo)
	}
	return nil
}

func (s CapabilitySet) NumberChallenge() *NumberChallenge {
	if c := s.find("number_challenge"); c != nil {
		return c.(*NumberChallenge)
	}
	return nil
}

func (s CapabilitySet) SocialIDP() *SocialIDP {
	if c := s.find("social_idp"); c != nil {
		return c.(*SocialIDP)
	}
	return nil
}

func (s CapabilitySet) WebAuthnRegistration() *WebAuthnRegistration {
	if c := s.find("webauthn_registration"); c != nil {
		return c.(*WebAuthnRegistration)
	}
	return nil
}

func (s CapabilitySet) WebAuthnAuthentication() *WebAuthnAuthentication {
	if c := s.find("webauthn_authentication"); c != nil {
		return c.(*WebAuthnAuthentication)
	}
	return nil
}
