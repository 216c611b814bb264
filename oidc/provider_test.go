// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

const testRedirectURL = "https://example.com/auth/callback"

// testNewProvider starts a TestProvider and a Provider configured for it.
func testNewProvider(t *testing.T, opt ...Option) (*TestProvider, *Provider) {
	t.Helper()
	tp := StartTestProvider(t)
	tp.SetExpectedAuthCode("test-code")
	p, err := NewProvider(tp.Config(t, testRedirectURL, opt...))
	require.NoError(t, err)
	t.Cleanup(p.Done)
	return tp, p
}

// testAuthorize plays the user agent: it follows the auth URL to the test
// provider and returns the state and code from the redirect.
func testAuthorize(t *testing.T, tp *TestProvider, p *Provider, r Request) (state, code string) {
	t.Helper()
	require := require.New(t)
	authURL, err := p.AuthURL(context.Background(), r)
	require.NoError(err)
	resp, err := tp.HTTPClient().Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Empty(loc.Query().Get("error"))
	return loc.Query().Get("state"), loc.Query().Get("code")
}

func testPKCERequest(t *testing.T, opt ...Option) *Req {
	t.Helper()
	v, err := NewCodeVerifier()
	require.NoError(t, err)
	r, err := NewRequest(time.Minute, testRedirectURL, append([]Option{WithPKCE(v)}, opt...)...)
	require.NoError(t, err)
	return r
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		_, err := NewProvider(nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		_, err := NewProvider(&Config{})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("discovery-fails-without-ca", func(t *testing.T) {
		tp := StartTestProvider(t)
		c, err := NewConfig(tp.Addr(), DefaultTestClientID, DefaultTestClientSecret, []Alg{ES256}, testRedirectURL)
		require.NoError(t, err)
		_, err = NewProvider(c)
		assert.Error(t, err)
	})
	t.Run("discovered-endpoints", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testNewProvider(t)
		assert.Equal(tp.Addr()+"/authorize", p.endpoint.AuthURL)
		assert.Equal(tp.Addr()+"/token", p.endpoint.TokenURL)
		assert.Equal(tp.Addr()+"/revoke", p.revocationURL)
		assert.Equal(oauth2.AuthStyleInHeader, p.endpoint.AuthStyle)
	})
	t.Run("endpoint-overrides", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testNewProvider(t, WithEndpoints("https://override.example.com/authorize", "", "https://override.example.com/revoke"))
		assert.Equal("https://override.example.com/authorize", p.endpoint.AuthURL)
		assert.True(strings.HasSuffix(p.endpoint.TokenURL, "/token"))
		assert.Equal("https://override.example.com/revoke", p.revocationURL)
	})
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, p := testNewProvider(t, WithScopes("offline_access", "Calendars.ReadWrite"))

	t.Run("pkce-and-locales", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r := testPKCERequest(t, WithUILocales(language.AmericanEnglish, language.French))
		got, err := p.AuthURL(ctx, r)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		q := u.Query()
		assert.Equal(r.State(), q.Get("state"))
		assert.Equal(r.Nonce(), q.Get("nonce"))
		assert.Equal("code", q.Get("response_type"))
		assert.Equal(testRedirectURL, q.Get("redirect_uri"))
		assert.Equal("openid offline_access Calendars.ReadWrite", q.Get("scope"))
		assert.Equal(r.PKCEVerifier().Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Equal("en-US fr", q.Get("ui_locales"))
	})
	t.Run("request-scopes-override", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r := testPKCERequest(t, WithScopes("profile"))
		got, err := p.AuthURL(ctx, r)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("openid profile", u.Query().Get("scope"))
	})
	t.Run("expired", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		r, err := NewRequest(time.Minute, testRedirectURL, WithNow(clock.Now))
		require.NoError(t, err)
		_, err = p.AuthURL(ctx, r)
		require.NoError(t, err)

		clock.Advance(time.Minute + time.Second)
		_, err = p.AuthURL(ctx, r)
		assert.ErrorIs(t, err, ErrExpiredRequest)
	})
	t.Run("nil-request", func(t *testing.T) {
		_, err := p.AuthURL(ctx, nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("authorization-code-flow-with-pkce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testNewProvider(t)
		tp.SetCustomClaims(map[string]interface{}{"name": "Alice", "oid": "oid-1", "tid": "tid-1"})
		r := testPKCERequest(t)
		state, code := testAuthorize(t, tp, p, r)

		tk, err := p.Exchange(ctx, r, state, code)
		require.NoError(err)
		assert.NotEmpty(tk.AccessToken())
		assert.NotEmpty(tk.RefreshToken())
		assert.True(tk.Valid())
		assert.Equal([]string{"openid", "offline_access"}, tk.Scopes())

		var claims struct {
			Nonce string `json:"nonce"`
			Name  string `json:"name"`
			OID   string `json:"oid"`
		}
		require.NoError(tk.IDToken().Claims(&claims))
		assert.Equal(r.Nonce(), claims.Nonce)
		assert.Equal("Alice", claims.Name)
		assert.Equal("oid-1", claims.OID)
		assert.Equal(1, tp.TokenRequests("authorization_code"))
	})
	t.Run("wrong-pkce-verifier", func(t *testing.T) {
		tp, p := testNewProvider(t)
		r := testPKCERequest(t)
		state, code := testAuthorize(t, tp, p, r)
		other := testPKCERequest(t)
		other.state, other.nonce = r.state, r.nonce
		_, err := p.Exchange(ctx, other, state, code)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
	t.Run("state-mismatch", func(t *testing.T) {
		tp, p := testNewProvider(t)
		r := testPKCERequest(t)
		_, code := testAuthorize(t, tp, p, r)
		_, err := p.Exchange(ctx, r, "st_not-the-state", code)
		assert.ErrorIs(t, err, ErrInvalidResponseState)
		assert.Equal(t, 0, tp.TokenRequests(""))
	})
	t.Run("expired-request", func(t *testing.T) {
		_, p := testNewProvider(t)
		clock := clockwork.NewFakeClock()
		r, err := NewRequest(time.Second, testRedirectURL, WithNow(clock.Now))
		require.NoError(t, err)
		clock.Advance(2 * time.Second)
		_, err = p.Exchange(ctx, r, r.State(), "test-code")
		assert.ErrorIs(t, err, ErrExpiredRequest)
	})
	t.Run("bad-code", func(t *testing.T) {
		tp, p := testNewProvider(t)
		r := testPKCERequest(t)
		state, _ := testAuthorize(t, tp, p, r)
		_, err := p.Exchange(ctx, r, state, "not-the-code")
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		tp, p := testNewProvider(t)
		tp.OmitIDTokens()
		r := testPKCERequest(t)
		state, code := testAuthorize(t, tp, p, r)
		_, err := p.Exchange(ctx, r, state, code)
		assert.ErrorIs(t, err, ErrMissingIDToken)
	})
	t.Run("wrong-nonce", func(t *testing.T) {
		tp, p := testNewProvider(t)
		r := testPKCERequest(t)
		state, code := testAuthorize(t, tp, p, r)
		tp.SetExpectedAuthNonce("n_someone-else")
		_, err := p.Exchange(ctx, r, state, code)
		assert.ErrorIs(t, err, ErrInvalidNonce)
	})
	t.Run("wrong-audience", func(t *testing.T) {
		tp, p := testNewProvider(t)
		tp.SetCustomAudience("someone-else")
		r := testPKCERequest(t)
		state, code := testAuthorize(t, tp, p, r)
		_, err := p.Exchange(ctx, r, state, code)
		assert.ErrorIs(t, err, ErrIDTokenVerificationFailed)
	})
	t.Run("request-audiences", func(t *testing.T) {
		tp, p := testNewProvider(t)
		r := testPKCERequest(t, WithAudiences("another-aud"))
		state, code := testAuthorize(t, tp, p, r)
		_, err := p.Exchange(ctx, r, state, code)
		assert.ErrorIs(t, err, ErrInvalidAudience)
	})
}

func TestProvider_Refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("keeps-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testNewProvider(t)
		tp.AddRefreshToken("rt_alice")
		tk, err := p.Refresh(ctx, "rt_alice")
		require.NoError(err)
		assert.NotEmpty(tk.AccessToken())
		assert.Equal(RefreshToken("rt_alice"), tk.RefreshToken())
		assert.WithinDuration(time.Now().Add(DefaultTestAccessTokenExpiry), tk.Expiry(), 5*time.Second)
		assert.Equal(1, tp.TokenRequests("refresh_token"))
	})
	t.Run("rotated-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testNewProvider(t)
		tp.SetRotateRefreshTokens(true)
		tp.AddRefreshToken("rt_alice")
		tk, err := p.Refresh(ctx, "rt_alice")
		require.NoError(err)
		assert.NotEqual(RefreshToken("rt_alice"), tk.RefreshToken())

		_, err = p.Refresh(ctx, "rt_alice")
		assert.ErrorIs(err, ErrInvalidGrant)
	})
	t.Run("empty", func(t *testing.T) {
		_, p := testNewProvider(t)
		_, err := p.Refresh(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	classification := []struct {
		name      string
		status    int
		code      string
		wantIsErr error
	}{
		{name: "revoked", wantIsErr: ErrInvalidGrant},
		{name: "invalid-grant-400", status: http.StatusBadRequest, code: "invalid_grant", wantIsErr: ErrInvalidGrant},
		{name: "interaction-required", status: http.StatusBadRequest, code: "interaction_required", wantIsErr: ErrInvalidGrant},
		{name: "invalid-client", status: http.StatusUnauthorized, code: "invalid_client", wantIsErr: ErrProviderUnavailable},
		{name: "unauthorized-client", status: http.StatusBadRequest, code: "unauthorized_client", wantIsErr: ErrProviderUnavailable},
		{name: "throttled", status: http.StatusTooManyRequests, code: "temporarily_unavailable", wantIsErr: ErrProviderUnavailable},
		{name: "server-error", status: http.StatusServiceUnavailable, code: "server_error", wantIsErr: ErrProviderUnavailable},
	}
	for _, tt := range classification {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			tp, p := testNewProvider(t)
			if tt.status != 0 {
				tp.AddRefreshToken("rt_alice")
				tp.SetTokenError(tt.status, tt.code)
			}
			_, err := p.Refresh(ctx, "rt_alice")
			assert.ErrorIs(err, tt.wantIsErr)
		})
	}
	t.Run("unreachable", func(t *testing.T) {
		tp, p := testNewProvider(t)
		tp.Stop()
		_, err := p.Refresh(ctx, "rt_alice")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})
	t.Run("timeout", func(t *testing.T) {
		tp, p := testNewProvider(t)
		tp.AddRefreshToken("rt_alice")
		tp.SetTokenLatency(time.Second)
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := p.Refresh(ctx, "rt_alice")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})
}

func TestProvider_Revoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("revoked", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testNewProvider(t)
		tp.AddRefreshToken("rt_alice")
		require.NoError(p.Revoke(ctx, "rt_alice"))
		assert.True(tp.IsRevoked("rt_alice"))
		assert.Equal(1, tp.RevokeRequests())

		_, err := p.Refresh(ctx, "rt_alice")
		assert.ErrorIs(err, ErrInvalidGrant)
	})
	t.Run("not-supported", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.DisableRevocation()
		p, err := NewProvider(tp.Config(t, testRedirectURL))
		require.NoError(t, err)
		defer p.Done()
		assert.ErrorIs(t, p.Revoke(ctx, "rt_alice"), ErrNotSupported)
	})
	t.Run("bad-client-creds", func(t *testing.T) {
		tp, p := testNewProvider(t)
		tp.SetClientCreds(DefaultTestClientID, "rotated-secret")
		assert.ErrorIs(t, p.Revoke(ctx, "rt_alice"), ErrProviderUnavailable)
	})
}

func TestProvider_UserInfo(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp, p := testNewProvider(t)
	tp.AddRefreshToken("rt_alice")
	tk, err := p.Refresh(ctx, "rt_alice")
	require.NoError(err)

	var claims map[string]interface{}
	require.NoError(p.UserInfo(ctx, tk.StaticTokenSource(), &claims))
	assert.Equal("Alice Doe-Smith", claims["name"])
	assert.Equal(1, tp.UserInfoRequests())

	assert.ErrorIs(p.UserInfo(ctx, nil, &claims), ErrNilParameter)
	assert.ErrorIs(p.UserInfo(ctx, tk.StaticTokenSource(), nil), ErrNilParameter)
}

func Test_classifyTokenError(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	resp := func(code int) *http.Response { return &http.Response{StatusCode: code} }

	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(400), ErrorCode: "invalid_grant"}), ErrInvalidGrant)
	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(400)}), ErrInvalidGrant)
	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(401)}), ErrInvalidGrant)
	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(403)}), ErrProviderUnavailable)
	for _, code := range []string{"invalid_client", "unauthorized_client", "invalid_request", "unsupported_grant_type"} {
		err := classifyTokenError(&oauth2.RetrieveError{Response: resp(401), ErrorCode: code})
		assert.ErrorIs(err, ErrProviderUnavailable, code)
		assert.NotErrorIs(err, ErrInvalidGrant, code)
	}
	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(200), ErrorCode: "consent_required"}), ErrInvalidGrant)
	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(500)}), ErrProviderUnavailable)
	assert.ErrorIs(classifyTokenError(&oauth2.RetrieveError{Response: resp(429)}), ErrProviderUnavailable)
	assert.ErrorIs(classifyTokenError(context.DeadlineExceeded), ErrProviderUnavailable)
	assert.ErrorIs(classifyTokenError(context.DeadlineExceeded), context.DeadlineExceeded)
}
