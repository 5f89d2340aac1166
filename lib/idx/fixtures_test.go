package idx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const identifyFixture = `{
  "stateHandle": "sh-1",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "identify",
        "href": "https://example.okta.com/idp/idx/identify",
        "method": "POST",
        "value": [
          {"name": "identifier", "label": "Username", "required": true},
          {"name": "rememberMe", "label": "Remember me", "type": "boolean"},
          {"name": "stateHandle", "required": true, "value": "sh-1", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "cancel": {
    "name": "cancel",
    "href": "https://example.okta.com/idp/idx/cancel",
    "method": "POST",
    "value": [
      {"name": "stateHandle", "required": true, "value": "sh-1", "visible": false, "mutable": false}
    ]
  }
}`

const selectAuthenticatorFixture = `{
  "stateHandle": "sh-2",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "select-authenticator-authenticate",
        "href": "https://example.okta.com/idp/idx/challenge",
        "method": "POST",
        "value": [
          {
            "name": "authenticator",
            "type": "object",
            "required": true,
            "options": [
              {
                "label": "Password",
                "value": {"form": {"value": [
                  {"name": "id", "required": true, "value": "aut-pwd", "mutable": false},
                  {"name": "methodType", "required": false, "value": "password", "mutable": false}
                ]}}
              },
              {
                "label": "Email",
                "value": {"form": {"value": [
                  {"name": "id", "required": true, "value": "aut-email", "mutable": false},
                  {"name": "methodType", "required": false, "value": "email", "mutable": false}
                ]}}
              }
            ]
          },
          {"name": "stateHandle", "required": true, "value": "sh-2", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "cancel": {
    "name": "cancel",
    "href": "https://example.okta.com/idp/idx/cancel",
    "method": "POST",
    "value": [
      {"name": "stateHandle", "required": true, "value": "sh-2", "visible": false, "mutable": false}
    ]
  }
}`

const challengePasswordFixture = `{
  "stateHandle": "sh-3",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "challenge-authenticator",
        "href": "https://example.okta.com/idp/idx/challenge/answer",
        "method": "POST",
        "value": [
          {
            "name": "credentials",
            "type": "object",
            "required": true,
            "form": {"value": [
              {"name": "passcode", "label": "Password", "secret": true}
            ]}
          },
          {"name": "stateHandle", "required": true, "value": "sh-3", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "currentAuthenticatorEnrollment": {
    "value": {
      "id": "aut-pwd",
      "type": "password",
      "displayName": "Password",
      "methods": [{"type": "password"}],
      "recover": {
        "name": "recover",
        "href": "https://example.okta.com/idp/idx/recover"
      }
    }
  },
  "cancel": {
    "name": "cancel",
    "href": "https://example.okta.com/idp/idx/cancel",
    "method": "POST",
    "value": [
      {"name": "stateHandle", "required": true, "value": "sh-3", "visible": false, "mutable": false}
    ]
  }
}`

const challengePollFixture = `{
  "stateHandle": "sh-4",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "challenge-poll",
        "href": "https://example.okta.com/idp/idx/challenge/poll",
        "method": "POST",
        "refresh": 10,
        "value": [
          {"name": "stateHandle", "required": true, "value": "sh-4", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "currentAuthenticator": {
    "value": {
      "id": "aut-push",
      "type": "app",
      "displayName": "Push Notification",
      "methods": [{"type": "push"}],
      "poll": {
        "name": "poll",
        "href": "https://example.okta.com/idp/idx/challenge/poll",
        "refresh": 10
      },
      "resend": {
        "name": "resend",
        "href": "https://example.okta.com/idp/idx/challenge/resend"
      }
    }
  }
}`

const challengeErrorFixture = `{
  "stateHandle": "sh-3",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "challenge-authenticator",
        "href": "https://example.okta.com/idp/idx/challenge/answer",
        "method": "POST",
        "value": [
          {
            "name": "credentials",
            "type": "object",
            "required": true,
            "form": {"value": [
              {"name": "passcode", "label": "Password", "secret": true}
            ]}
          },
          {"name": "stateHandle", "required": true, "value": "sh-3", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "currentAuthenticatorEnrollment": {
    "value": {
      "id": "aut-pwd",
      "type": "password",
      "displayName": "Password"
    }
  },
  "messages": {
    "value": [
      {
        "message": "Password is incorrect",
        "class": "ERROR",
        "i18n": {"key": "incorrectPassword"}
      }
    ]
  }
}`

const successFixture = `{
  "stateHandle": "sh-5",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "successWithInteractionCode": {
    "name": "issue",
    "href": "https://example.okta.com/oauth2/v1/token",
    "method": "POST",
    "value": [
      {"name": "grant_type", "required": true, "value": "interaction_code", "mutable": false},
      {"name": "interaction_code", "required": true, "value": "icode-1", "mutable": false},
      {"name": "client_id", "required": true, "value": "cli-1", "mutable": false}
    ]
  }
}`

const expiredFixture = `{
  "stateHandle": "sh-6",
  "expiresAt": "2020-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "identify",
        "href": "https://example.okta.com/idp/idx/identify",
        "method": "POST",
        "value": [
          {"name": "identifier", "label": "Username", "required": true},
          {"name": "stateHandle", "required": true, "value": "sh-6", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "cancel": {
    "name": "cancel",
    "href": "https://example.okta.com/idp/idx/cancel",
    "method": "POST",
    "value": [
      {"name": "stateHandle", "required": true, "value": "sh-6", "visible": false, "mutable": false}
    ]
  },
  "currentAuthenticatorEnrollment": {
    "value": {
      "id": "aut-email",
      "type": "email",
      "displayName": "Email",
      "resend": {
        "name": "resend",
        "href": "https://example.okta.com/idp/idx/challenge/resend"
      }
    }
  }
}`

const webauthnChallengeFixture = `{
  "stateHandle": "sh-7",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "challenge-authenticator",
        "href": "https://example.okta.com/idp/idx/challenge/answer",
        "method": "POST",
        "value": [
          {"name": "credentials", "type": "object", "required": true},
          {"name": "stateHandle", "required": true, "value": "sh-7", "visible": false, "mutable": false}
        ]
      }
    ]
  },
  "currentAuthenticator": {
    "value": {
      "id": "aut-key",
      "type": "security_key",
      "displayName": "Security Key or Biometric",
      "contextualData": {
        "challengeData": {
          "challenge": "nonce-1",
          "rpId": "example.okta.com",
          "credentialIds": ["cred-1", "cred-2"]
        }
      }
    }
  }
}`

const redirectIDPFixture = `{
  "stateHandle": "sh-8",
  "expiresAt": "2035-01-01T00:00:00.000Z",
  "remediation": {
    "value": [
      {
        "name": "redirect-idp",
        "href": "https://example.okta.com/sso/idps/idp-1?stateToken=sh-8",
        "method": "GET",
        "idp": {"id": "idp-1", "name": "Google"}
      },
      {
        "name": "identify",
        "href": "https://example.okta.com/idp/idx/identify",
        "method": "POST",
        "value": [
          {"name": "identifier", "label": "Username", "required": true},
          {"name": "stateHandle", "required": true, "value": "sh-8", "visible": false, "mutable": false}
        ]
      }
    ]
  }
}`

func mustParse(t *testing.T, fixture string) *Response {
	t.Helper()
	resp, err := ParseResponse([]byte(fixture))
	require.NoError(t, err)
	return resp
}

type submitCall struct {
	Name    string
	Href    string
	Payload map[string]interface{}
}

// stubTransport records every call and dispatches to per-method functions.
type stubTransport struct {
	mu sync.Mutex

	interactFn     func() (*Response, error)
	submitFn       func(call submitCall) (*Response, error)
	introspectFn   func(token string) (*Response, error)
	exchangeFn     func() (*Token, error)
	exchangeCodeFn func(code string) (*Token, error)

	submits       []submitCall
	introspects   []string
	exchanges     int
	exchangeCodes []string
}

func (s *stubTransport) Interact(ctx context.Context) (*Response, error) {
	return s.interactFn()
}

func (s *stubTransport) Submit(ctx context.Context, name, href string, payload map[string]interface{}) (*Response, error) {
	call := submitCall{Name: name, Href: href, Payload: payload}
	s.mu.Lock()
	s.submits = append(s.submits, call)
	s.mu.Unlock()
	return s.submitFn(call)
}

func (s *stubTransport) Introspect(ctx context.Context, token string) (*Response, error) {
	s.mu.Lock()
	s.introspects = append(s.introspects, token)
	s.mu.Unlock()
	return s.introspectFn(token)
}

func (s *stubTransport) Exchange(ctx context.Context, success *Remediation) (*Token, error) {
	s.mu.Lock()
	s.exchanges++
	s.mu.Unlock()
	if s.exchangeFn != nil {
		return s.exchangeFn()
	}
	return &Token{AccessToken: "at-1", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (s *stubTransport) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	s.mu.Lock()
	s.exchangeCodes = append(s.exchangeCodes, code)
	s.mu.Unlock()
	if s.exchangeCodeFn != nil {
		return s.exchangeCodeFn(code)
	}
	return &Token{AccessToken: "at-2", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func (s *stubTransport) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

func (s *stubTransport) introspectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.introspects)
}

func (s *stubTransport) exchangeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges + len(s.exchangeCodes)
}

func (s *stubTransport) lastSubmit() submitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits[len(s.submits)-1]
}

// startedFlow builds a flow whose first response is the given fixture.
func startedFlow(t *testing.T, tr *stubTransport, fixture string, opts ...FlowOption) *Flow {
	t.Helper()
	tr.interactFn = func() (*Response, error) {
		return mustParse(t, fixture), nil
	}
	f := NewFlow(tr, opts...)
	_, err := f.Start(context.Background())
	require.NoError(t, err)
	return f
}
