package idx

// RemediationType identifies one candidate next action. Unrecognized wire
// names map to an unknown value carrying the raw name; matching on an
// unknown type falls through to ErrCannotProceed rather than mis-dispatching.
type RemediationType struct {
	name string
	raw  string
}

var (
	RemediationIdentify                      = RemediationType{name: "identify"}
	RemediationIdentifyRecovery              = RemediationType{name: "identify-recovery"}
	RemediationChallengeAuthenticator        = RemediationType{name: "challenge-authenticator"}
	RemediationSelectAuthenticatorAuth       = RemediationType{name: "select-authenticator-authenticate"}
	RemediationSelectAuthenticatorEnroll     = RemediationType{name: "select-authenticator-enroll"}
	RemediationEnrollAuthenticator           = RemediationType{name: "enroll-authenticator"}
	RemediationEnrollProfile                 = RemediationType{name: "enroll-profile"}
	RemediationAuthenticatorVerificationData = RemediationType{name: "authenticator-verification-data"}
	RemediationResetAuthenticator            = RemediationType{name: "reset-authenticator"}
	RemediationSkip                          = RemediationType{name: "skip"}
	RemediationCancel                        = RemediationType{name: "cancel"}
	RemediationChallengePoll                 = RemediationType{name: "challenge-poll"}
	RemediationEnrollPoll                    = RemediationType{name: "enroll-poll"}
	RemediationRedirectIDP                   = RemediationType{name: "redirect-idp"}
	RemediationSuccess                       = RemediationType{name: "successWithInteractionCode"}
)

var knownRemediationTypes = map[string]RemediationType{}

func init() {
	for _, t := range []RemediationType{
		RemediationIdentify,
		RemediationIdentifyRecovery,
		RemediationChallengeAuthenticator,
		RemediationSelectAuthenticatorAuth,
		RemediationSelectAuthenticatorEnroll,
		RemediationEnrollAuthenticator,
		RemediationEnrollProfile,
		RemediationAuthenticatorVerificationData,
		RemediationResetAuthenticator,
		RemediationSkip,
		RemediationCancel,
		RemediationChallengePoll,
		RemediationEnrollPoll,
		RemediationRedirectIDP,
		RemediationSuccess,
	} {
		knownRemediationTypes[t.name] = t
	}
}

// RemediationUnknown wraps a wire name this client does not recognize.
func RemediationUnknown(raw string) RemediationType {
	return RemediationType{name: "unknown", raw: raw}
}

func remediationTypeFromWire(raw string) RemediationType {
	if t, ok := knownRemediationTypes[raw]; ok {
		return t
	}
	return RemediationUnknown(raw)
}

func (t RemediationType) String() string {
	if t.name == "unknown" {
		return t.raw
	}
	return t.name
}

// IsUnknown reports whether the type was not recognized by this client.
func (t RemediationType) IsUnknown() bool { return t.name == "unknown" }

// Remediation is one candidate next action offered by a response: a form to
// fill and submit, the authenticators it involves, and the capabilities
// attached to it. Identity within a response is its type.
type Remediation struct {
	Type           RemediationType
	Name           string
	Href           string
	Method         string
	Form           *Form
	Authenticators []*Authenticator
	Capabilities   CapabilitySet
}

// Authenticator returns the first referenced authenticator, which for
// challenge and enroll remediations is the one being acted on.
func (r *Remediation) Authenticator() *Authenticator {
	if len(r.Authenticators) == 0 {
		return nil
	}
	return r.Authenticators[0]
}
