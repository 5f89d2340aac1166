package idx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token is the terminal artifact of a successful flow. It is produced
// exactly once per flow by exchanging the success remediation.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// IDTokenClaims decodes the ID token claims without verifying the
// signature. Verification is the caller's concern; this is only suitable
// for display purposes such as showing the logged-in subject.
func (t *Token) IDTokenClaims() (jwt.MapClaims, error) {
	if t.IDToken == "" {
		return nil, fmt.Errorf("token has no id_token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.IDToken, claims); err != nil {
		return nil, fmt.Errorf("decoding id_token claims: %w", err)
	}
	return claims, nil
}
