// Client implementing the IDX transport primitives against an Okta org.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"github.com/outpost-labs/okta-idx-go/lib/idx"
)

const Timeout = time.Duration(60 * time.Second)

var (
	ErrInvalidConfiguration = errors.New("client configuration is not valid")
	ErrUnexpectedResponse   = errors.New("unexpected response from server")
)

// Config identifies the OAuth client the transport acts for.
type Config struct {
	// Issuer is the org authorization server, e.g.
	// https://example.okta.com/oauth2/default
	Issuer      string
	ClientID    string
	Scopes      []string
	RedirectURI string
}

func (c Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("missing issuer. %w", ErrInvalidConfiguration)
	}
	if c.ClientID == "" {
		return fmt.Errorf("missing client id. %w", ErrInvalidConfiguration)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("missing redirect uri. %w", ErrInvalidConfiguration)
	}
	return nil
}

// Options tunes the underlying HTTP client.
type Options struct {
	// HTTPClient replaces the default client entirely when set.
	HTTPClient *http.Client
	// HTTPClientTimeout overrides the default 60s timeout.
	HTTPClientTimeout *time.Duration
}

// Client implements idx.Transport over HTTP. One client runs one
// interaction at a time; the PKCE verifier generated at construction is
// redeemed by the final token exchange.
type Client struct {
	config Config
	base   *url.URL
	client http.Client

	codeVerifier  string
	codeChallenge string
}

// NewClient builds a transport for the given client configuration.
func NewClient(config Config, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%v %w", err, ErrInvalidConfiguration)
	}

	var httpClient http.Client
	if opts.HTTPClient != nil {
		httpClient = *opts.HTTPClient
	} else {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("unable to create cookie jar: %w", err)
		}
		transCfg := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: Timeout,
		}
		httpClient = http.Client{
			Transport: transCfg,
			Timeout:   Timeout,
			Jar:       jar,
		}
		if opts.HTTPClientTimeout != nil {
			httpClient.Timeout = *opts.HTTPClientTimeout
		}
	}

	verifier, challenge, err := pkce()
	if err != nil {
		return nil, err
	}

	return &Client{
		config:        config,
		base:          base,
		client:        httpClient,
		codeVerifier:  verifier,
		codeChallenge: challenge,
	}, nil
}

// Interact starts a new transaction: it obtains an interaction handle from
// the authorization server and introspects it into the first response.
func (c *Client) Interact(ctx context.Context) (*idx.Response, error) {
	form := url.Values{
		"client_id":             {c.config.ClientID},
		"scope":                 {strings.Join(c.config.Scopes, " ")},
		"redirect_uri":          {c.config.RedirectURI},
		"code_challenge":        {c.codeChallenge},
		"code_challenge_method": {"S256"},
	}

	log.Debug("POST oauth2/v1/interact")
	body, err := c.request(ctx, "oauth2/v1/interact", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return nil, err
	}
	var interact struct {
		InteractionHandle string `json:"interaction_handle"`
	}
	if err := json.Unmarshal(body, &interact); err != nil {
		return nil, fmt.Errorf("%v %w", err, ErrUnexpectedResponse)
	}
	if interact.InteractionHandle == "" {
		return nil, fmt.Errorf("no interaction handle issued. %w", ErrUnexpectedResponse)
	}

	return c.postIDX(ctx, "idp/idx/introspect", map[string]interface{}{
		"interactionHandle": interact.InteractionHandle,
	})
}

// Introspect refreshes the state of a pending transaction.
func (c *Client) Introspect(ctx context.Context, continuationToken string) (*idx.Response, error) {
	return c.postIDX(ctx, "idp/idx/introspect", map[string]interface{}{
		"stateHandle": continuationToken,
	})
}

// Submit posts an assembled payload to a remediation endpoint.
func (c *Client) Submit(ctx context.Context, name, href string, payload map[string]interface{}) (*idx.Response, error) {
	target := href
	if target == "" {
		target = "idp/idx/" + name
	}
	return c.postIDX(ctx, target, payload)
}

// Exchange redeems a success remediation for a token. The interaction code
// rides in the success remediation's form.
func (c *Client) Exchange(ctx context.Context, success *idx.Remediation) (*idx.Token, error) {
	payload, err := idx.AssembleForm(success.Form, nil)
	if err != nil {
		return nil, err
	}
	code, _ := payload["interaction_code"].(string)
	if code == "" {
		return nil, fmt.Errorf("success remediation carries no interaction code. %w", ErrUnexpectedResponse)
	}
	return c.ExchangeCode(ctx, code)
}

// ExchangeCode redeems an interaction code for a token.
func (c *Client) ExchangeCode(ctx context.Context, interactionCode string) (*idx.Token, error) {
	form := url.Values{
		"grant_type":       {"interaction_code"},
		"interaction_code": {interactionCode},
		"client_id":        {c.config.ClientID},
		"code_verifier":    {c.codeVerifier},
	}

	log.Debug("POST oauth2/v1/token")
	body, err := c.request(ctx, "oauth2/v1/token", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return nil, err
	}
	var token idx.Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%v %w", err, ErrUnexpectedResponse)
	}
	return &token, nil
}

// postIDX posts a JSON payload to an IDX endpoint and decodes the next
// response. Error statuses that still carry a remediation response are
// returned as such, since step-level validation errors are remediable.
func (c *Client) postIDX(ctx context.Context, target string, payload map[string]interface{}) (*idx.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	log.Debug("POST ", target)
	body, err := c.request(ctx, target, "application/json", data)
	if err != nil {
		return nil, err
	}
	return idx.ParseResponse(body)
}

// request performs one POST and returns the raw body. Non-2xx statuses are
// classified: an IDX response body with content is handed back for normal
// parsing, a JSON error body becomes a *idx.ServerError, anything else is
// ErrUnexpectedResponse.
func (c *Client) request(ctx context.Context, target, contentType string, data []byte) ([]byte, error) {
	requestURL, err := c.resolve(target)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", requestURL.String(), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header = http.Header{
		"Accept":        []string{"application/json"},
		"Content-Type":  []string{contentType},
		"Cache-Control": []string{"no-cache"},
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return body, nil
	}
	if serverErr := parseErrorBody(body); serverErr != nil {
		return nil, serverErr
	}
	if looksLikeIDXResponse(body) {
		return body, nil
	}
	return nil, fmt.Errorf("POST %s: %s %w", requestURL, res.Status, ErrUnexpectedResponse)
}

func (c *Client) resolve(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	return url.Parse(fmt.Sprintf("%s://%s/%s", c.base.Scheme, c.base.Host, strings.TrimPrefix(target, "/")))
}

// parseErrorBody recognizes the two error body shapes the server uses: the
// OAuth {"error": ...} object and the Okta API {"errorCode": ...} object.
func parseErrorBody(body []byte) *idx.ServerError {
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		return &idx.ServerError{Code: oauthErr.Error, Summary: oauthErr.Description}
	}
	var apiErr struct {
		ErrorCode    string `json:"errorCode"`
		ErrorSummary string `json:"errorSummary"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorCode != "" {
		return &idx.ServerError{Code: apiErr.ErrorCode, Summary: apiErr.ErrorSummary}
	}
	return nil
}

func looksLikeIDXResponse(body []byte) bool {
	var probe struct {
		StateHandle string          `json:"stateHandle"`
		Remediation json.RawMessage `json:"remediation"`
		Messages    json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.StateHandle != "" || len(probe.Remediation) > 0 || len(probe.Messages) > 0
}

// pkce generates the verifier and its S256 challenge for one interaction.
func pkce() (verifier string, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
