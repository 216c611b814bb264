// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-delegate/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/go-delegate/sdk/http"
	"golang.org/x/oauth2"
)

// Provider provides integration with an OIDC provider.
// It's primary capabilities include:
//   - Kicking off a user authentication via either the authorization code flow
//     (with optional PKCE) and returning an URL via the AuthURL(...) operation.
//   - Completing the authorization code flow via the Exchange(...) operation
//     which verifies the id_token it receives.
//   - Refreshing and revoking the delegated refresh_token via the Refresh(...)
//     and Revoke(...) operations.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client

	endpoint      oauth2.Endpoint
	revocationURL string

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs key sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// discoveryClaims are the provider metadata fields go-oidc doesn't surface
// itself.
type discoveryClaims struct {
	RevocationEndpoint string   `json:"revocation_endpoint"`
	TokenAuthMethods   []string `json:"token_endpoint_auth_methods_supported"`
}

// NewProvider creates and initializes a Provider. Intializing the provider,
// includes making an http request to the provider's issuer.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HTTPClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client
	p.backgroundCtx = sdkHttp.OidcClientContext(p.backgroundCtx, client)

	provider, err := oidc.NewProvider(p.backgroundCtx, c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		// we don't know what's causing the problem, so we won't classify the
		// error with a Kind
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider

	var claims discoveryClaims
	if err := provider.Claims(&claims); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: unable to read provider metadata: %w", op, err)
	}

	p.endpoint = provider.Endpoint()
	if c.AuthURL != "" {
		p.endpoint.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		p.endpoint.TokenURL = c.TokenURL
	}
	// client_secret_basic is the default when the provider doesn't say.
	switch {
	case len(claims.TokenAuthMethods) == 0,
		strutils.StrListContains(claims.TokenAuthMethods, "client_secret_basic"):
		p.endpoint.AuthStyle = oauth2.AuthStyleInHeader
	default:
		p.endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	p.revocationURL = claims.RevocationEndpoint
	if c.RevocationURL != "" {
		p.revocationURL = c.RevocationURL
	}
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with an IdP.
//
// See NewRequest() to create an oidc Request with a valid state and Nonce that
// will uniquely identify the user's authentication attempt throughout the flow.
func (p *Provider) AuthURL(ctx context.Context, oidcRequest Request) (string, error) {
	const op = "Provider.AuthURL"
	if oidcRequest == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() == oidcRequest.Nonce() {
		return "", fmt.Errorf("%s: request state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.IsExpired() {
		return "", fmt.Errorf("%s: request is expired: %w", op, ErrExpiredRequest)
	}

	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(oidcRequest.Nonce()),
	}
	if v := oidcRequest.PKCEVerifier(); v != nil {
		if v.Method() != S256 {
			return "", fmt.Errorf("%s: %s: %w", op, v.Method(), ErrUnsupportedChallengeMethod)
		}
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
		)
	}
	if locales := oidcRequest.UILocales(); len(locales) > 0 {
		tags := make([]string, 0, len(locales))
		for _, l := range locales {
			tags = append(tags, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(tags, " ")))
	}
	return p.oauth2Config(oidcRequest).AuthCodeURL(oidcRequest.State(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier successful
// oidc authentication response.
//
// Exchange will use PKCE when the user's oidc Request specifies its use.
//
// It will also validate the authorizationState it receives against the
// existing Request for the user's oidc authentication flow.
//
// On success, the Token returned will include an IDToken and may include an
// AccessToken and RefreshToken.
func (p *Provider) Exchange(ctx context.Context, oidcRequest Request, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() != authorizationState {
		return nil, fmt.Errorf("%s: authentication request state and authorization state are not equal: %w", op, ErrInvalidResponseState)
	}
	if oidcRequest.IsExpired() {
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrExpiredRequest)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}

	var exchangeOpts []oauth2.AuthCodeOption
	if v := oidcRequest.PKCEVerifier(); v != nil {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(v.Verifier()))
	}
	oauth2Token, err := p.oauth2Config(oidcRequest).Exchange(p.clientContext(ctx), authorizationCode, exchangeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, classifyTokenError(err))
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	if err := p.VerifyIDToken(ctx, t.IDToken(), oidcRequest); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	return t, nil
}

// Refresh redeems the refresh_token at the provider's token endpoint. A
// response without a new refresh_token keeps the one provided. An id_token in
// the response is verified (without a nonce) before it's returned.
//
// Errors the provider reports for the grant itself match ErrInvalidGrant and
// mean the user has to authenticate again. Every other failure matches
// ErrProviderUnavailable.
func (p *Provider) Refresh(ctx context.Context, t RefreshToken) (*Tk, error) {
	const op = "Provider.Refresh"
	if t == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	src := p.oauth2Config(nil).TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: string(t)})
	oauth2Token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to refresh token: %w", op, classifyTokenError(err))
	}
	if oauth2Token.RefreshToken == "" {
		oauth2Token.RefreshToken = string(t)
	}
	idToken, _ := oauth2Token.Extra("id_token").(string)
	if idToken != "" {
		if err := p.verifyIDToken(ctx, IDToken(idToken), "", p.config.Audiences); err != nil {
			return nil, fmt.Errorf("%s: refreshed id_token failed verification: %w", op, err)
		}
	}
	tk, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrProviderUnavailable, err))
	}
	return tk, nil
}

// Revoke asks the provider to revoke the refresh_token.
//
// See: https://tools.ietf.org/html/rfc7009
func (p *Provider) Revoke(ctx context.Context, t RefreshToken) error {
	const op = "Provider.Revoke"
	if t == "" {
		return fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	if p.revocationURL == "" {
		return fmt.Errorf("%s: provider has no revocation endpoint: %w", op, ErrNotSupported)
	}
	form := url.Values{
		"token":           {string(t)},
		"token_type_hint": {"refresh_token"},
	}
	if p.endpoint.AuthStyle == oauth2.AuthStyleInParams {
		form.Set("client_id", p.config.ClientID)
		form.Set("client_secret", string(p.config.ClientSecret))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: unable to create revocation request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.endpoint.AuthStyle == oauth2.AuthStyleInHeader {
		req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(string(p.config.ClientSecret)))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: revocation request failed: %w", op, errors.Join(ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: revocation endpoint returned %d (%s): %w", op, resp.StatusCode, strings.TrimSpace(string(body)), ErrProviderUnavailable)
	}
	return nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, claims interface{}) error {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	userinfo, err := p.provider.UserInfo(p.clientContext(ctx), tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed: %w", op, errors.Join(ErrUserInfoFailed, err))
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, errors.Join(ErrUserInfoFailed, err))
	}
	return nil
}

// VerifyIDToken will verify the inbound IDToken. It verifies it's been signed
// by the provider, it validates the nonce, and performs checks any additional
// checks depending on the provider's config and the request's audiences.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, oidcRequest Request) error {
	const op = "Provider.VerifyIDToken"
	if oidcRequest == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.Nonce() == "" {
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	auds := p.config.Audiences
	if len(oidcRequest.Audiences()) > 0 {
		auds = oidcRequest.Audiences()
	}
	if err := p.verifyIDToken(ctx, t, oidcRequest.Nonce(), auds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// verifyIDToken checks the signature, issuer, expiry, client ID and audiences.
// An empty nonce skips the nonce check.
func (p *Provider) verifyIDToken(ctx context.Context, t IDToken, nonce string, audiences []string) error {
	if t == "" {
		return fmt.Errorf("id_token is empty: %w", ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := p.provider.Verifier(&oidc.Config{
		ClientID:             p.config.ClientID,
		SupportedSigningAlgs: algs,
		Now:                  p.config.Now,
	})
	oidcIDToken, err := verifier.Verify(p.clientContext(ctx), string(t))
	if err != nil {
		return fmt.Errorf("invalid id_token: %w", errors.Join(ErrIDTokenVerificationFailed, err))
	}
	if nonce != "" && oidcIDToken.Nonce != nonce {
		return fmt.Errorf("invalid id_token nonce: %w", ErrInvalidNonce)
	}
	if len(audiences) > 0 {
		for _, v := range audiences {
			if strutils.StrListContains(oidcIDToken.Audience, v) {
				return nil
			}
		}
		return fmt.Errorf("invalid id_token audiences: %w", ErrInvalidAudience)
	}
	return nil
}

// oauth2Config builds the oauth2 config for a flow. A nil request uses the
// configured redirect URL and scopes.
func (p *Provider) oauth2Config(oidcRequest Request) *oauth2.Config {
	redirectURL := p.config.RedirectURL
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	if oidcRequest != nil {
		if oidcRequest.RedirectURL() != "" {
			redirectURL = oidcRequest.RedirectURL()
		}
		if len(oidcRequest.Scopes()) > 0 {
			scopes = oidcRequest.Scopes()
		}
	}
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     p.endpoint,
		Scopes:       strutils.RemoveDuplicatesStable(scopes, false),
	}
}

// clientContext carries the provider's http client for go-oidc and oauth2.
func (p *Provider) clientContext(ctx context.Context) context.Context {
	return sdkHttp.OidcClientContext(ctx, p.client)
}

// invalidGrantCodes are the token endpoint error codes which mean the grant
// itself won't ever be accepted again.
var invalidGrantCodes = []string{
	"invalid_grant",
	"interaction_required",
	"login_required",
	"consent_required",
}

// classifyTokenError maps a token endpoint failure to ErrInvalidGrant or
// ErrProviderUnavailable, keeping the original error in the chain. Only the
// invalidGrantCodes, or a bare 400 or 401 without an error code, reject the
// grant. Client and request errors (invalid_client, unauthorized_client,
// invalid_request, ...) are faults of this relying party, not of the user's
// grant.
func classifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		switch {
		case strutils.StrListContains(invalidGrantCodes, rErr.ErrorCode):
			return errors.Join(ErrInvalidGrant, err)
		case rErr.ErrorCode == "" && rErr.Response != nil:
			switch rErr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized:
				return errors.Join(ErrInvalidGrant, err)
			}
		}
	}
	return errors.Join(ErrProviderUnavailable, err)
}
