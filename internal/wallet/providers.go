package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Well-known issuers for the OIDC strategies.
const (
	GoogleIssuer = "https://accounts.google.com"
	AppleIssuer  = "https://appleid.apple.com"

	githubUserURL = "https://api.github.com/user"
)

var defaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Identity is what a provider knows about the signed-in user.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Provider runs one OAuth2 authorization-code flow.
type Provider interface {
	Name() login.Provider
	AuthURL(state, verifier, redirectURI string) string
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error)
	Identity(ctx context.Context, token *oauth2.Token) (*Identity, error)
}

func authCodeURL(cfg *oauth2.Config, state, verifier, redirectURI string) string {
	c := *cfg // copy
	c.RedirectURL = redirectURI
	return c.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func exchange(ctx context.Context, cfg *oauth2.Config, code, verifier, redirectURI string) (*oauth2.Token, error) {
	c := *cfg // copy
	c.RedirectURL = redirectURI
	return c.Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

// OIDCProvider signs in through an OpenID Connect issuer (Google, Apple).
type OIDCProvider struct {
	name         login.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers issuer and builds the provider.
func NewOIDCProvider(ctx context.Context, name login.Provider, issuer string, cfg config.OAuthProviderConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &OIDCProvider{
		name: name,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p *OIDCProvider) Name() login.Provider {
	return p.name
}

func (p *OIDCProvider) AuthURL(state, verifier, redirectURI string) string {
	return authCodeURL(p.oauth2Config, state, verifier, redirectURI)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error) {
	return exchange(ctx, p.oauth2Config, code, verifier, redirectURI)
}

func (p *OIDCProvider) Identity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return &Identity{Subject: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}

// GitHubProvider signs in through GitHub's OAuth apps.
type GitHubProvider struct {
	oauth2Config *oauth2.Config
	userURL      string
}

func NewGitHubProvider(cfg config.OAuthProviderConfig) *GitHubProvider {
	return newGitHubProvider(cfg, github.Endpoint, githubUserURL)
}

func newGitHubProvider(cfg config.OAuthProviderConfig, endpoint oauth2.Endpoint, userURL string) *GitHubProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}
	return &GitHubProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userURL: userURL,
	}
}

func (p *GitHubProvider) Name() login.Provider {
	return login.ProviderGitHub
}

func (p *GitHubProvider) AuthURL(state, verifier, redirectURI string) string {
	return authCodeURL(p.oauth2Config, state, verifier, redirectURI)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error) {
	return exchange(ctx, p.oauth2Config, code, verifier, redirectURI)
}

func (p *GitHubProvider) Identity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	client := p.oauth2Config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info request failed with status %d", resp.StatusCode)
	}

	var gh struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	name := gh.Name
	if name == "" {
		name = gh.Login
	}
	return &Identity{Subject: strconv.FormatInt(gh.ID, 10), Email: gh.Email, Name: name}, nil
}

// NewProviders builds every provider listed in cfg. Unknown names are an error.
func NewProviders(ctx context.Context, cfg *config.OAuthConfig) ([]Provider, error) {
	if cfg == nil {
		return nil, nil
	}
	providers := make([]Provider, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		switch p := login.ParseProvider(name); p {
		case login.ProviderGoogle, login.ProviderApple:
			issuer := pc.Issuer
			if issuer == "" {
				issuer = GoogleIssuer
				if p == login.ProviderApple {
					issuer = AppleIssuer
				}
			}
			provider, err := NewOIDCProvider(ctx, p, issuer, pc)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
			}
			providers = append(providers, provider)
		case login.ProviderGitHub:
			providers = append(providers, NewGitHubProvider(pc))
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
		}
		logger.Info("Configured login provider", zap.String("provider", name))
	}
	return providers, nil
}
