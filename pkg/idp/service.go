package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/gatherly/gatherly/pkg/audit"
	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

var defaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Service manages identity-provider records and runs OIDC discovery
// against them.
type Service struct {
	store    *Store
	recorder audit.Recorder
	logger   *observability.Logger

	// discover is swapped in tests to avoid real network discovery.
	discover func(ctx context.Context, issuer string) (*oidc.Provider, error)
}

// NewService builds the identity-provider service.
func NewService(store *Store, recorder audit.Recorder, logger *observability.Logger) *Service {
	return &Service{
		store:    store,
		recorder: recorder,
		logger:   logger,
		discover: oidc.NewProvider,
	}
}

// CreateInput is the provider creation payload.
type CreateInput struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	IssuerURL    string   `json:"issuerUrl"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURL  string   `json:"redirectUrl"`
	Scopes       []string `json:"scopes"`
	Enabled      *bool    `json:"enabled"`
}

func validateIssuer(issuer string) (string, error) {
	issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
	u, err := url.Parse(issuer)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", httputil.BadRequest("issuerUrl must be a valid http(s) URL")
	}
	return issuer, nil
}

func validateScopes(kind string, scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		if kind == KindOIDC {
			return defaultScopes, nil
		}
		return nil, httputil.BadRequest("scopes are required")
	}
	if kind == KindOIDC {
		hasOpenID := false
		for _, scope := range scopes {
			if scope == oidc.ScopeOpenID {
				hasOpenID = true
				break
			}
		}
		if !hasOpenID {
			return nil, httputil.BadRequest("%q scope is required for oidc providers", oidc.ScopeOpenID)
		}
	}
	return scopes, nil
}

// Create validates and stores a new provider.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, httputil.BadRequest("provider name is required")
	}
	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	if kind == "" {
		kind = KindOIDC
	}
	if kind != KindOIDC && kind != KindOAuth2 {
		return nil, httputil.BadRequest("kind must be %q or %q", KindOIDC, KindOAuth2)
	}
	issuer, err := validateIssuer(in.IssuerURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ClientID) == "" {
		return nil, httputil.BadRequest("clientId is required")
	}
	scopes, err := validateScopes(kind, in.Scopes)
	if err != nil {
		return nil, err
	}

	provider := &Provider{
		Name:         name,
		Kind:         kind,
		IssuerURL:    issuer,
		ClientID:     strings.TrimSpace(in.ClientID),
		ClientSecret: in.ClientSecret,
		RedirectURL:  strings.TrimSpace(in.RedirectURL),
		Scopes:       scopes,
		Enabled:      in.Enabled == nil || *in.Enabled,
	}
	if err := s.store.Create(ctx, provider); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "idp.create", providerResource(provider.ID), nil)
	return provider, nil
}

// UpdateInput carries sparse provider changes.
type UpdateInput struct {
	Name         *string  `json:"name"`
	IssuerURL    *string  `json:"issuerUrl"`
	ClientID     *string  `json:"clientId"`
	ClientSecret *string  `json:"clientSecret"`
	RedirectURL  *string  `json:"redirectUrl"`
	Scopes       []string `json:"scopes"`
	Enabled      *bool    `json:"enabled"`
}

// Update applies a sparse update and returns the fresh record.
func (s *Service) Update(ctx context.Context, actorID, id int64, in UpdateInput) (*Provider, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	upd := ProviderUpdate{
		ClientSecret: in.ClientSecret,
		Enabled:      in.Enabled,
	}
	if in.Name != nil {
		name := strings.ToLower(strings.TrimSpace(*in.Name))
		if name == "" {
			return nil, httputil.BadRequest("provider name cannot be empty")
		}
		upd.Name = &name
	}
	if in.IssuerURL != nil {
		issuer, err := validateIssuer(*in.IssuerURL)
		if err != nil {
			return nil, err
		}
		upd.IssuerURL = &issuer
	}
	if in.ClientID != nil {
		clientID := strings.TrimSpace(*in.ClientID)
		if clientID == "" {
			return nil, httputil.BadRequest("clientId cannot be empty")
		}
		upd.ClientID = &clientID
	}
	if in.RedirectURL != nil {
		redirect := strings.TrimSpace(*in.RedirectURL)
		upd.RedirectURL = &redirect
	}
	if in.Scopes != nil {
		scopes, err := validateScopes(current.Kind, in.Scopes)
		if err != nil {
			return nil, err
		}
		upd.Scopes = scopes
	}

	if err := s.store.Update(ctx, id, upd); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "idp.update", providerResource(id), nil)
	return s.store.Get(ctx, id)
}

// Get returns one provider.
func (s *Service) Get(ctx context.Context, id int64) (*Provider, error) {
	return s.store.Get(ctx, id)
}

// List returns all providers.
func (s *Service) List(ctx context.Context) ([]Provider, error) {
	return s.store.List(ctx)
}

// Delete removes a provider.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actorID, "idp.delete", providerResource(id), nil)
	return nil
}

// Verify runs OIDC discovery against the provider's issuer and returns
// the discovered endpoints. An unreachable or malformed issuer is a
// 502.
func (s *Service) Verify(ctx context.Context, actorID, id int64) (*Verification, error) {
	provider, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if provider.Kind != KindOIDC {
		return nil, httputil.BadRequest("discovery verification requires an oidc provider")
	}

	discovered, err := s.discover(ctx, provider.IssuerURL)
	if err != nil {
		s.logger.WithError(err).WithField("provider", provider.Name).Warn("identity provider discovery failed")
		s.audit(ctx, actorID, "idp.verify", providerResource(id),
			map[string]interface{}{"error": err.Error()})
		return nil, httputil.NewError(http.StatusBadGateway,
			"identity provider discovery failed: %v", err)
	}

	var doc struct {
		UserinfoEndpoint string `json:"userinfo_endpoint"`
		JWKSURI          string `json:"jwks_uri"`
	}
	if err := discovered.Claims(&doc); err != nil {
		return nil, fmt.Errorf("parse discovery document: %w", err)
	}

	endpoint := discovered.Endpoint()
	s.audit(ctx, actorID, "idp.verify", providerResource(id), nil)
	return &Verification{
		ProviderID:            provider.ID,
		Issuer:                provider.IssuerURL,
		AuthorizationEndpoint: endpoint.AuthURL,
		TokenEndpoint:         endpoint.TokenURL,
		UserinfoEndpoint:      doc.UserinfoEndpoint,
		JWKSURI:               doc.JWKSURI,
		VerifiedAt:            time.Now().UTC(),
	}, nil
}

// AuthorizeURL builds an authorization redirect for the provider using
// its discovered endpoints. An empty state gets a generated one.
func (s *Service) AuthorizeURL(ctx context.Context, id int64, redirectURI, state string) (*AuthorizeURL, error) {
	provider, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !provider.Enabled {
		return nil, httputil.BadRequest("identity provider is disabled")
	}
	if redirectURI == "" {
		redirectURI = provider.RedirectURL
	}
	if redirectURI == "" {
		return nil, httputil.BadRequest("redirect_uri is required")
	}
	if state == "" {
		state = uuid.NewString()
	}

	discovered, err := s.discover(ctx, provider.IssuerURL)
	if err != nil {
		return nil, httputil.NewError(http.StatusBadGateway,
			"identity provider discovery failed: %v", err)
	}

	cfg := &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		Endpoint:     discovered.Endpoint(),
		RedirectURL:  redirectURI,
		Scopes:       provider.Scopes,
	}
	return &AuthorizeURL{
		URL:   cfg.AuthCodeURL(state, oauth2.AccessTypeOffline),
		State: state,
	}, nil
}

func (s *Service) audit(ctx context.Context, actorID int64, action, resource string, detail map[string]interface{}) {
	outcome := audit.OutcomeSuccess
	if detail != nil && detail["error"] != nil {
		outcome = audit.OutcomeFailure
	}
	err := s.recorder.Record(ctx, audit.Event{
		ActorID:  &actorID,
		Action:   action,
		Resource: resource,
		Outcome:  outcome,
		Detail:   detail,
	})
	if err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func providerResource(id int64) string {
	return fmt.Sprintf("idp:%d", id)
}
