package idx

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageClass distinguishes step-level errors from informational notices.
type MessageClass string

const (
	MessageClassError = MessageClass("ERROR")
	MessageClassInfo  = MessageClass("INFO")
)

// Message is a server message attached to a response. Code is the
// machine-readable key a caller may localize on; Text is the server's
// default human-readable string.
type Message struct {
	Class MessageClass
	Code  string
	Text  string
}

// Response is the full immutable snapshot of one step of the flow: the
// remediations available next, the distinguished cancel and success
// remediations, server messages, and expiry. Every submission produces a
// brand-new response that replaces the previous one wholesale.
type Response struct {
	Remediations       []*Remediation
	CancelRemediation  *Remediation
	SuccessRemediation *Remediation
	Authenticators     []*Authenticator
	Messages           []Message
	ExpiresAt          time.Time

	// ContinuationToken identifies the server-side transaction and is used
	// by polling introspection.
	ContinuationToken string
}

// IsLoginSuccessful reports whether the flow has completed and the success
// remediation can be exchanged for a token.
func (r *Response) IsLoginSuccessful() bool {
	return r.SuccessRemediation != nil
}

// Remediation returns the remediation of the given type, or nil.
func (r *Response) Remediation(t RemediationType) *Remediation {
	for _, rem := range r.Remediations {
		if rem.Type == t {
			return rem
		}
	}
	return nil
}

// Expired reports whether the response can no longer be submitted.
func (r *Response) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ErrorMessages returns the messages with class ERROR.
func (r *Response) ErrorMessages() []Message {
	var out []Message
	for _, m := range r.Messages {
		if m.Class == MessageClassError {
			out = append(out, m)
		}
	}
	return out
}

// wire shapes

type wireResponse struct {
	StateHandle string `json:"stateHandle"`
	ExpiresAt   string `json:"expiresAt"`
	Remediation struct {
		Value []wireRemediation `json:"value"`
	} `json:"remediation"`
	Messages struct {
		Value []wireMessage `json:"value"`
	} `json:"messages"`
	Cancel  *wireRemediation `json:"cancel"`
	Success *wireRemediation `json:"successWithInteractionCode"`

	CurrentAuthenticator struct {
		Value *wireAuthenticator `json:"value"`
	} `json:"currentAuthenticator"`
	CurrentAuthenticatorEnrollment struct {
		Value *wireAuthenticator `json:"value"`
	} `json:"currentAuthenticatorEnrollment"`
	Authenticators struct {
		Value []wireAuthenticator `json:"value"`
	} `json:"authenticators"`
	AuthenticatorEnrollments struct {
		Value []wireAuthenticator `json:"value"`
	} `json:"authenticatorEnrollments"`
}

type wireRemediation struct {
	Name      string   `json:"name"`
	Href      string   `json:"href"`
	Method    string   `json:"method"`
	Value     []Field  `json:"value"`
	RelatesTo []string `json:"relatesTo"`
	Refresh   int      `json:"refresh"`
	IDP       *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"idp"`
}

type wireMessage struct {
	Message string `json:"message"`
	Class   string `json:"class"`
	I18N    struct {
		Key string `json:"key"`
	} `json:"i18n"`
}

type wireLink struct {
	Name    string `json:"name"`
	Href    string `json:"href"`
	Refresh int    `json:"refresh"`
}

type wireAuthenticator struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Methods     []struct {
		Type string `json:"type"`
	} `json:"methods"`
	Profile        map[string]string   `json:"profile"`
	Poll           *wireLink           `json:"poll"`
	Send           *wireLink           `json:"send"`
	Resend         *wireLink           `json:"resend"`
	Recover        *wireLink           `json:"recover"`
	ContextualData *wireContextualData `json:"contextualData"`
}

type wireContextualData struct {
	SharedSecret string `json:"sharedSecret"`
	QRCode       *struct {
		Href string `json:"href"`
	} `json:"qrcode"`
	CorrectAnswer string `json:"correctAnswer"`
	Duo           *struct {
		Host        string `json:"host"`
		SignedToken string `json:"signedToken"`
		Script      string `json:"script"`
	} `json:"duo"`
	ChallengeData *struct {
		Challenge        string   `json:"challenge"`
		RelyingPartyID   string   `json:"rpId"`
		UserVerification string   `json:"userVerification"`
		CredentialIDs    []string `json:"credentialIds"`
	} `json:"challengeData"`
	ActivationData *struct {
		Challenge    string `json:"challenge"`
		RelyingParty struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"rp"`
		User struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"activationData"`
}

// ParseResponse decodes one wire response into the snapshot model.
func ParseResponse(data []byte) (*Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding idx response: %w", err)
	}

	resp := &Response{ContinuationToken: w.StateHandle}

	if w.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, w.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("decoding idx response expiry: %w", err)
		}
		resp.ExpiresAt = t
	}

	byID := map[string]*Authenticator{}
	addAuthenticator := func(wa *wireAuthenticator, fallback EnrollmentState) *Authenticator {
		if wa == nil {
			return nil
		}
		if a, ok := byID[wa.ID]; ok && wa.ID != "" {
			return a
		}
		a := parseAuthenticator(wa, fallback, w.StateHandle)
		resp.Authenticators = append(resp.Authenticators, a)
		if wa.ID != "" {
			byID[wa.ID] = a
		}
		return a
	}

	current := addAuthenticator(w.CurrentAuthenticator.Value, EnrollmentStateAuthenticating)
	if enrollment := addAuthenticator(w.CurrentAuthenticatorEnrollment.Value, EnrollmentStateEnrolling); current == nil {
		current = enrollment
	}
	for i := range w.Authenticators.Value {
		addAuthenticator(&w.Authenticators.Value[i], EnrollmentStateNotEnrolled)
	}
	for i := range w.AuthenticatorEnrollments.Value {
		addAuthenticator(&w.AuthenticatorEnrollments.Value[i], EnrollmentStateEnrolled)
	}

	parseRem := func(wr *wireRemediation) *Remediation {
		if wr == nil {
			return nil
		}
		return parseRemediation(wr, byID, current, w.StateHandle)
	}

	for i := range w.Remediation.Value {
		resp.Remediations = append(resp.Remediations, parseRem(&w.Remediation.Value[i]))
	}
	resp.CancelRemediation = parseRem(w.Cancel)
	resp.SuccessRemediation = parseRem(w.Success)
	if resp.SuccessRemediation != nil {
		// The wire name under successWithInteractionCode is "issue".
		resp.SuccessRemediation.Type = RemediationSuccess
	}

	for _, wm := range w.Messages.Value {
		resp.Messages = append(resp.Messages, Message{
			Class: MessageClass(wm.Class),
			Code:  wm.I18N.Key,
			Text:  wm.Message,
		})
	}

	return resp, nil
}

func parseAuthenticator(wa *wireAuthenticator, fallback EnrollmentState, continuationToken string) *Authenticator {
	a := &Authenticator{
		ID:          wa.ID,
		Kind:        authenticatorKindFromWire(wa.Type),
		DisplayName: wa.DisplayName,
		State:       EnrollmentState(wa.State),
	}
	if a.State == "" {
		a.State = fallback
	}
	for _, m := range wa.Methods {
		a.Methods = append(a.Methods, Method{Type: m.Type})
	}

	if wa.Poll != nil {
		interval := time.Duration(wa.Poll.Refresh) * time.Millisecond
		if interval <= 0 {
			interval = defaultPollInterval
		}
		a.Capabilities = append(a.Capabilities, &Pollable{
			Interval:          interval,
			ContinuationToken: continuationToken,
		})
	}
	if wa.Send != nil {
		a.Capabilities = append(a.Capabilities, &Sendable{Target: linkName(wa.Send, "send"), Href: wa.Send.Href})
	}
	if wa.Resend != nil {
		a.Capabilities = append(a.Capabilities, &Resendable{Target: linkName(wa.Resend, "resend"), Href: wa.Resend.Href})
	}
	if wa.Recover != nil {
		a.Capabilities = append(a.Capabilities, &Recoverable{Target: linkName(wa.Recover, "recover"), Href: wa.Recover.Href})
	}
	if len(wa.Profile) > 0 {
		a.Capabilities = append(a.Capabilities, &ProfileData{Attributes: wa.Profile})
	}

	if cd := wa.ContextualData; cd != nil {
		if cd.SharedSecret != "" {
			otp := &OTP{SharedSecret: cd.SharedSecret}
			if cd.QRCode != nil {
				otp.QRCodeURI = cd.QRCode.Href
			}
			a.Capabilities = append(a.Capabilities, otp)
		}
		if cd.CorrectAnswer != "" {
			a.Capabilities = append(a.Capabilities, &NumberChallenge{CorrectAnswer: cd.CorrectAnswer})
		}
		if cd.Duo != nil {
			a.Capabilities = append(a.Capabilities, &Duo{
				Host:        cd.Duo.Host,
				SignedToken: cd.Duo.SignedToken,
				Script:      cd.Duo.Script,
			})
		}
		if cd.ChallengeData != nil {
			a.Capabilities = append(a.Capabilities, &WebAuthnAuthentication{
				RelyingPartyID: cd.ChallengeData.RelyingPartyID,
				Challenge:      cd.ChallengeData.Challenge,
				CredentialIDs:  cd.ChallengeData.CredentialIDs,
			})
		}
		if cd.ActivationData != nil {
			a.Capabilities = append(a.Capabilities, &WebAuthnRegistration{
				RelyingPartyID: cd.ActivationData.RelyingParty.ID,
				Challenge:      cd.ActivationData.Challenge,
				UserID:         cd.ActivationData.User.ID,
				UserName:       cd.ActivationData.User.Name,
				DisplayName:    cd.ActivationData.User.DisplayName,
			})
		}
	}

	return a
}

func parseRemediation(wr *wireRemediation, byID map[string]*Authenticator, current *Authenticator, continuationToken string) *Remediation {
	rem := &Remediation{
		Type:   remediationTypeFromWire(wr.Name),
		Name:   wr.Name,
		Href:   wr.Href,
		Method: wr.Method,
		Form:   &Form{Fields: wr.Value},
	}
	if rem.Method == "" {
		rem.Method = "POST"
	}

	for _, id := range wr.RelatesTo {
		if a, ok := byID[id]; ok {
			rem.Authenticators = append(rem.Authenticators, a)
		}
	}
	// Challenge and enroll remediations act on the current authenticator
	// when they carry no explicit reference.
	if len(rem.Authenticators) == 0 && current != nil {
		switch rem.Type {
		case RemediationChallengeAuthenticator, RemediationEnrollAuthenticator,
			RemediationAuthenticatorVerificationData, RemediationChallengePoll,
			RemediationEnrollPoll, RemediationResetAuthenticator:
			rem.Authenticators = append(rem.Authenticators, current)
		}
	}

	if wr.Refresh > 0 {
		rem.Capabilities = append(rem.Capabilities, &Pollable{
			Interval:          time.Duration(wr.Refresh) * time.Millisecond,
			ContinuationToken: continuationToken,
		})
	}
	if wr.IDP != nil {
		rem.Capabilities = append(rem.Capabilities, &SocialIDP{
			ID:          wr.IDP.ID,
			Name:        wr.IDP.Name,
			RedirectURL: wr.Href,
		})
	}

	return rem
}

func linkName(l *wireLink, fallback string) string {
	if l.Name != "" {
		return l.Name
	}
	return fallback
}
