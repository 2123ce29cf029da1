package idp

import (
	"time"
)

// Provider kinds. OIDC providers support discovery-based verification;
// plain OAuth2 providers are configuration records only.
const (
	KindOIDC   = "oidc"
	KindOAuth2 = "oauth2"
)

// Provider is an external identity-provider configuration. The client
// secret is stored but never serialized in API responses.
type Provider struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	IssuerURL    string    `json:"issuerUrl"`
	ClientID     string    `json:"clientId"`
	ClientSecret string    `json:"-"`
	RedirectURL  string    `json:"redirectUrl"`
	Scopes       []string  `json:"scopes"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Verification is the result of an OIDC discovery check against a
// provider's issuer.
type Verification struct {
	ProviderID            int64     `json:"providerId"`
	Issuer                string    `json:"issuer"`
	AuthorizationEndpoint string    `json:"authorizationEndpoint"`
	TokenEndpoint         string    `json:"tokenEndpoint"`
	UserinfoEndpoint      string    `json:"userinfoEndpoint,omitempty"`
	JWKSURI               string    `json:"jwksUri,omitempty"`
	VerifiedAt            time.Time `json:"verifiedAt"`
}

// AuthorizeURL is a generated authorization redirect for a provider.
type AuthorizeURL struct {
	URL   string `json:"url"`
	State string `json:"state"`
}
