package idx

// AuthenticatorKind identifies a verification method. The server may
// introduce kinds this client does not know about; those map to
// AuthenticatorKindOther and are carried with their raw wire value so
// matching logic degrades to a defined fallback instead of mis-dispatching.
type AuthenticatorKind struct {
	kind string
	raw  string
}

var (
	AuthenticatorKindPassword         = AuthenticatorKind{kind: "password"}
	AuthenticatorKindEmail            = AuthenticatorKind{kind: "email"}
	AuthenticatorKindPhone            = AuthenticatorKind{kind: "phone"}
	AuthenticatorKindApp              = AuthenticatorKind{kind: "app"}
	AuthenticatorKindSecurityKey      = AuthenticatorKind{kind: "security_key"}
	AuthenticatorKindFederated        = AuthenticatorKind{kind: "federated"}
	AuthenticatorKindDevice           = AuthenticatorKind{kind: "device"}
	AuthenticatorKindSecurityQuestion = AuthenticatorKind{kind: "security_question"}
)

// AuthenticatorKindOther wraps an unrecognized wire value.
func AuthenticatorKindOther(raw string) AuthenticatorKind {
	return AuthenticatorKind{kind: "other", raw: raw}
}

var knownAuthenticatorKinds = map[string]AuthenticatorKind{
	"password":          AuthenticatorKindPassword,
	"email":             AuthenticatorKindEmail,
	"phone":             AuthenticatorKindPhone,
	"app":               AuthenticatorKindApp,
	"security_key":      AuthenticatorKindSecurityKey,
	"federated":         AuthenticatorKindFederated,
	"device":            AuthenticatorKindDevice,
	"security_question": AuthenticatorKindSecurityQuestion,
}

func authenticatorKindFromWire(raw string) AuthenticatorKind {
	if k, ok := knownAuthenticatorKinds[raw]; ok {
		return k
	}
	return AuthenticatorKindOther(raw)
}

func (k AuthenticatorKind) String() string {
	if k.kind == "other" {
		return k.raw
	}
	return k.kind
}

// IsOther reports whether the kind was not recognized by this client.
func (k AuthenticatorKind) IsOther() bool { return k.kind == "other" }

// EnrollmentState is the lifecycle state of an authenticator within the
// current response.
type EnrollmentState string

const (
	EnrollmentStateNotEnrolled    EnrollmentState = "not_enrolled"
	EnrollmentStateEnrolling      EnrollmentState = "enrolling"
	EnrollmentStateEnrolled       EnrollmentState = "enrolled"
	EnrollmentStateAuthenticating EnrollmentState = "authenticating"
)

// Method is a delivery or verification method offered by an authenticator
// (for example "sms" or "push" on a phone authenticator).
type Method struct {
	Type string
}

// Authenticator is an immutable snapshot of a verification method as
// described by one response. The next response supersedes it wholesale;
// authenticators are never mutated across steps.
type Authenticator struct {
	ID           string
	Kind         AuthenticatorKind
	DisplayName  string
	State        EnrollmentState
	Methods      []Method
	Capabilities CapabilitySet
}

// HasMethod reports whether the authenticator offers the given method type.
func (a *Authenticator) HasMethod(methodType string) bool {
	for _, m := range a.Methods {
		if m.Type == methodType {
			return true
		}
	}
	return false
}
