package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrMissingIDToken is returned when the token response has no id_token.
var ErrMissingIDToken = errors.New("external: token response has no id_token")

// ErrNonceMismatch is returned when the id_token nonce differs from the one
// sent with the authorization request.
var ErrNonceMismatch = errors.New("external: id_token nonce mismatch")

// Identity is the verified result of an upstream sign-in.
type Identity struct {
	Issuer    string
	Subject   string
	SessionID string
	Name      string
	Email     string
	AuthTime  time.Time
	IDToken   string
}

// Provider is the upstream identity provider.
type Provider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*Identity, error)
}

// ProviderConfig configures OIDC discovery against the upstream issuer.
type ProviderConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// OIDCProvider talks to an OpenID Connect provider found by discovery.
type OIDCProvider struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// Discover fetches the issuer's discovery document and returns a provider.
func Discover(ctx context.Context, cfg ProviderConfig) (*OIDCProvider, error) {
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}

	scopes := cfg.Scopes
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}

	return &OIDCProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient: cfg.HTTPClient,
	}, nil
}

func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange redeems code and verifies the returned id_token.
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		SessionID string `json:"sid"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AuthTime  int64  `json:"auth_time"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}

	id := &Identity{
		Issuer:    idToken.Issuer,
		Subject:   idToken.Subject,
		SessionID: claims.SessionID,
		Name:      claims.Name,
		Email:     claims.Email,
		IDToken:   rawIDToken,
	}
	if claims.AuthTime > 0 {
		id.AuthTime = time.Unix(claims.AuthTime, 0)
	}
	return id, nil
}
