// Package oidc implements OpenID Connect single sign-on. It handles discovery, the
// authorization code exchange and ID token verification. Mapping the verified identity to a
// dashboard account is left to the caller.
package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/sales-dashboard/sales-dashboard/internal/config"
)

// Identity is the verified subject of an ID token
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Provider wraps a discovered OpenID provider
type Provider struct {
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
}

// NewProvider runs OIDC discovery against the issuer. ctx bounds the discovery request.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("OIDC client secret is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &Provider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// AuthURL returns the authorization endpoint URL for state
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Authenticate exchanges the authorization code and verifies the returned ID token
func (p *Provider) Authenticate(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("token response has no id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	return identityFromToken(idToken)
}

func identityFromToken(idToken *oidc.IDToken) (*Identity, error) {
	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if claims.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token missing 'email' claim")
	}
	// Accounts are matched by email, so an address the IdP marks unverified is refused.
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, fmt.Errorf("ID token email %q is not verified", claims.Email)
	}

	if claims.Name == "" {
		claims.Name = claims.Email
	}
	return &Identity{
		Subject: claims.Sub,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:    claims.Name,
	}, nil
}
