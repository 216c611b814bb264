// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-delegate/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	// DefaultTestClientID and DefaultTestClientSecret are the client
	// credentials a TestProvider accepts until SetClientCreds is called.
	DefaultTestClientID     = "test-client-id"
	DefaultTestClientSecret = "test-client-secret"

	// DefaultTestAccessTokenExpiry is the lifetime of the access_tokens a
	// TestProvider issues until SetAccessTokenExpiry is called.
	DefaultTestAccessTokenExpiry = time.Hour
)

// TestProvider is local server that supports test provider capabilities which
// make writing tests much easier. It serves discovery, /authorize, /token
// (authorization_code and refresh_token grants), /revoke, /userinfo and its
// JWKS, and counts the requests it receives so tests can assert on network
// behavior.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedAuthNonce   string
	codeChallenge       string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitRefreshToken    bool
	disableUserInfo     bool
	disableRevocation   bool
	rotateRefreshTokens bool
	accessTokenExpiry   time.Duration
	tokenLatency        time.Duration
	forcedTokenStatus   int
	forcedTokenError    string
	refreshTokens       map[string]bool
	revokedTokens       map[string]bool
	tokenRequests       map[string]int
	revokeRequests      int
	userInfoRequests    int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates and starts a disposable TLS TestProvider. It's
// stopped automatically when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		replySubject: "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"sub":   "alice@example.com",
			"name":  "Alice Doe-Smith",
			"email": "alice@example.com",
		},
		clientID:          DefaultTestClientID,
		clientSecret:      DefaultTestClientSecret,
		accessTokenExpiry: DefaultTestAccessTokenExpiry,
		refreshTokens:     map[string]bool{},
		revokedTokens:     map[string]bool{},
		tokenRequests:     map[string]int{},
		t:                 t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Config returns a provider Config for the test provider, using its client
// credentials, CA and ES256 signing key.
func (p *TestProvider) Config(t *testing.T, redirectURL string, opt ...Option) *Config {
	t.Helper()
	p.mu.Lock()
	id, secret := p.clientID, p.clientSecret
	p.mu.Unlock()
	opts := append([]Option{WithProviderCA(p.CACert())}, opt...)
	c, err := NewConfig(p.Addr(), id, ClientSecret(secret), []Alg{ES256}, redirectURL, opts...)
	require.NoError(t, err)
	return c
}

// HTTPClient returns an http client which trusts the test provider's CA and
// doesn't follow redirects, which makes it easy to play the user agent's part
// in an authorization code flow.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce value required for /authorize and
// embedded in the id_token. Without it, the nonce of the last /authorize
// request is used.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetPKCEVerifier configures the PKCE verifier /token will require for the
// authorization_code grant.
func (p *TestProvider) SetPKCEVerifier(v CodeVerifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codeChallenge = v.Challenge()
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured, every redirect URI is allowed.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the id_token issued by the
// OIDC workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the id_token
// issued by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetUserInfoReply sets the claims the /userinfo endpoint returns.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens makes the authorization_code grant return no
// refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableRevocation makes the revocation endpoint return 404 and omits it from
// the discovery config.
func (p *TestProvider) DisableRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRevocation = true
}

// SetRotateRefreshTokens makes the refresh_token grant issue a new
// refresh_token and invalidate the one redeemed.
func (p *TestProvider) SetRotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// SetAccessTokenExpiry sets the lifetime of issued access_tokens.
func (p *TestProvider) SetAccessTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenExpiry = d
}

// SetTokenLatency delays every /token response.
func (p *TestProvider) SetTokenLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenLatency = d
}

// SetTokenError forces every /token response to fail with the status code and
// oauth error code. A zero status code clears it.
func (p *TestProvider) SetTokenError(statusCode int, errorCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedTokenStatus = statusCode
	p.forcedTokenError = errorCode
}

// AddRefreshToken makes the refresh_token grant accept the token.
func (p *TestProvider) AddRefreshToken(refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens[refreshToken] = true
	delete(p.revokedTokens, refreshToken)
}

// RevokeRefreshToken makes the refresh_token grant reject the token with
// invalid_grant, as if the user had revoked consent.
func (p *TestProvider) RevokeRefreshToken(refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.refreshTokens, refreshToken)
	p.revokedTokens[refreshToken] = true
}

// IsRevoked reports whether the refresh_token has been revoked.
func (p *TestProvider) IsRevoked(refreshToken string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revokedTokens[refreshToken]
}

// TokenRequests returns the number of /token requests received for the grant
// type. An empty grant type counts every request.
func (p *TestProvider) TokenRequests(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if grantType != "" {
		return p.tokenRequests[grantType]
	}
	var n int
	for _, c := range p.tokenRequests {
		n += c
	}
	return n
}

// RevokeRequests returns the number of /revoke requests received.
func (p *TestProvider) RevokeRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revokeRequests
}

// UserInfoRequests returns the number of /userinfo requests received.
func (p *TestProvider) UserInfoRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoRequests
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// clientAuthenticated accepts client_secret_basic and client_secret_post.
func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = req.PostFormValue("client_id"), req.PostFormValue("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/token" {
		p.mu.Lock()
		latency := p.tokenLatency
		p.mu.Unlock()
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-req.Context().Done():
				return
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint,omitempty"`
			RevocationEndpoint string   `json:"revocation_endpoint,omitempty"`
			AuthMethods        []string `json:"token_endpoint_auth_methods_supported"`
			Algs               []string `json:"id_token_signing_alg_values_supported"`
			ChallengeMethods   []string `json:"code_challenge_methods_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/.well-known/jwks.json",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			RevocationEndpoint: p.Addr() + "/revoke",
			AuthMethods:        []string{"client_secret_basic", "client_secret_post"},
			Algs:               []string{string(ES256)},
			ChallengeMethods:   []string{string(S256)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.disableRevocation {
			reply.RevocationEndpoint = ""
		}

		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}
		if qv.Get("client_id") != p.clientID {
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		}

		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		nonce := qv.Get("nonce")
		if p.expectedAuthNonce != "" && p.expectedAuthNonce != nonce {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		p.expectedAuthNonce = nonce

		switch qv.Get("code_challenge_method") {
		case "":
			p.codeChallenge = ""
		case string(S256):
			p.codeChallenge = qv.Get("code_challenge")
		default:
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/.well-known/jwks.json":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if err := p.writeJSON(w, p.jwks); err != nil {
			return
		}

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		grantType := req.PostFormValue("grant_type")
		p.tokenRequests[grantType]++

		if p.forcedTokenStatus != 0 {
			_ = p.writeTokenErrorResponse(w, p.forcedTokenStatus, p.forcedTokenError, "forced token endpoint error")
			return
		}
		if !p.clientAuthenticated(req) {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}

		switch grantType {
		case "authorization_code":
			p.handleAuthCodeGrant(w, req)
		case "refresh_token":
			p.handleRefreshGrant(w, req)
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		}

	case "/revoke":
		if p.disableRevocation {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.revokeRequests++
		if !p.clientAuthenticated(req) {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}
		// RFC 7009: unknown tokens are not an error.
		if rt := req.PostFormValue("token"); rt != "" {
			delete(p.refreshTokens, rt)
			p.revokedTokens[rt] = true
		}
		w.WriteHeader(http.StatusOK)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.userInfoRequests++

		if err := p.writeJSON(w, p.replyUserinfo); err != nil {
			return
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleAuthCodeGrant is called with p.mu held.
func (p *TestProvider) handleAuthCodeGrant(w http.ResponseWriter, req *http.Request) {
	switch {
	case len(p.allowedRedirectURIs) > 0 && !strutils.StrListContains(p.allowedRedirectURIs, req.PostFormValue("redirect_uri")):
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	case p.expectedAuthCode == "" || req.PostFormValue("code") != p.expectedAuthCode:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
		return
	case p.codeChallenge != "" && testS256Challenge(req.PostFormValue("code_verifier")) != p.codeChallenge:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	reply := p.newTokenReply(true)
	if !p.omitRefreshToken {
		reply.RefreshToken = p.issueRefreshToken()
	}
	_ = p.writeJSON(w, &reply)
}

// handleRefreshGrant is called with p.mu held.
func (p *TestProvider) handleRefreshGrant(w http.ResponseWriter, req *http.Request) {
	rt := req.PostFormValue("refresh_token")
	if !p.refreshTokens[rt] {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
		return
	}
	reply := p.newTokenReply(false)
	if p.rotateRefreshTokens {
		delete(p.refreshTokens, rt)
		reply.RefreshToken = p.issueRefreshToken()
	}
	_ = p.writeJSON(w, &reply)
}

type testTokenReply struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// newTokenReply is called with p.mu held.
func (p *TestProvider) newTokenReply(withIDToken bool) testTokenReply {
	require := require.New(p.t)
	at, err := NewID(WithPrefix("at"))
	require.NoError(err)
	reply := testTokenReply{
		AccessToken: at,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.accessTokenExpiry / time.Second),
		Scope:       "openid offline_access",
	}
	if withIDToken && !p.omitIDToken {
		reply.IDToken = p.signIDToken()
	}
	return reply
}

// signIDToken is called with p.mu held.
func (p *TestProvider) signIDToken() string {
	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if p.expectedAuthNonce != "" {
		privateClaims["nonce"] = p.expectedAuthNonce
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
}

// issueRefreshToken is called with p.mu held.
func (p *TestProvider) issueRefreshToken() string {
	rt, err := NewID(WithPrefix("rt"))
	require.NoError(p.t, err)
	p.refreshTokens[rt] = true
	return rt
}

func testS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	input := block.Bytes

	pub, err := x509.ParsePKIXPublicKey(input)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}
