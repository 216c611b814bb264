// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-delegate/broker"
	"github.com/hashicorp/go-delegate/gateway"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/hashicorp/go-delegate/signin"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func testRequiredEnv() map[string]string {
	return map[string]string{
		EnvIssuer:       "https://login.example.com/common/v2.0",
		EnvClientID:     "client-id",
		EnvClientSecret: "client-secret",
		EnvRedirectURL:  "http://localhost:3000/auth/callback",
		EnvAPIBaseURL:   "https://graph.example.com/v1.0",
	}
}

func TestLoadFrom(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		env         map[string]string
		want        func(t *testing.T, c *Config)
		wantErrIs   error
		wantErrVars []string
	}{
		{
			name: "defaults",
			env:  testRequiredEnv(),
			want: func(t *testing.T, c *Config) {
				assert := assert.New(t)
				assert.Equal("https://login.example.com/common/v2.0", c.Issuer)
				assert.Equal("client-id", c.ClientID)
				assert.Equal(oidc.ClientSecret("client-secret"), c.ClientSecret)
				assert.Equal("http://localhost:3000/auth/callback", c.RedirectURL)
				assert.Equal("https://graph.example.com/v1.0", c.APIBaseURL)
				assert.Equal([]string{"offline_access"}, c.Scopes)
				assert.Equal([]oidc.Alg{oidc.RS256}, c.SigningAlgs)
				assert.Equal(broker.DefaultExpirySkew, c.ExpirySkew)
				assert.Equal(oidc.DefaultHTTPTimeout, c.HTTPTimeout)
				assert.Equal(DefaultSessionTTL, c.SessionTTL)
				assert.Equal(signin.DefaultRequestTTL, c.RequestTTL)
				assert.Equal(gateway.DefaultPageSize, c.PageSize)
				assert.Zero(c.RateLimit)
				assert.Nil(c.RateLimiter())
				assert.Equal(hclog.Info, c.LogLevel)
				assert.Equal(DefaultListenAddr, c.ListenAddr)
			},
		},
		{
			name: "overrides",
			env: func() map[string]string {
				env := testRequiredEnv()
				env[EnvScopes] = "offline_access, Calendars.ReadWrite User.Read"
				env[EnvSigningAlgs] = "RS256,ES256"
				env[EnvTokenURL] = "https://login.example.com/token"
				env[EnvExpirySkew] = "1m"
				env[EnvHTTPTimeout] = "5s"
				env[EnvSessionTTL] = "2h"
				env[EnvRequestTTL] = "3m"
				env[EnvRateLimit] = "2.5"
				env[EnvRateBurst] = "4"
				env[EnvPageSize] = "10"
				env[EnvLogLevel] = "DEBUG"
				env[EnvListenAddr] = "127.0.0.1:8080"
				return env
			}(),
			want: func(t *testing.T, c *Config) {
				assert := assert.New(t)
				assert.Equal([]string{"offline_access", "Calendars.ReadWrite", "User.Read"}, c.Scopes)
				assert.Equal([]oidc.Alg{oidc.RS256, oidc.ES256}, c.SigningAlgs)
				assert.Equal("https://login.example.com/token", c.TokenURL)
				assert.Equal(time.Minute, c.ExpirySkew)
				assert.Equal(5*time.Second, c.HTTPTimeout)
				assert.Equal(2*time.Hour, c.SessionTTL)
				assert.Equal(3*time.Minute, c.RequestTTL)
				assert.Equal(10, c.PageSize)
				assert.Equal(hclog.Debug, c.LogLevel)
				assert.Equal("127.0.0.1:8080", c.ListenAddr)
				l := c.RateLimiter()
				assert.NotNil(l)
				assert.Equal(rate.Limit(2.5), l.Limit())
				assert.Equal(4, l.Burst())
			},
		},
		{
			name:      "all-required-missing",
			env:       map[string]string{EnvClientID: "  "},
			wantErrIs: ErrMissingVariable,
			wantErrVars: []string{
				EnvIssuer, EnvClientID, EnvClientSecret, EnvRedirectURL, EnvAPIBaseURL,
			},
		},
		{
			name: "invalid-values",
			env: func() map[string]string {
				env := testRequiredEnv()
				env[EnvExpirySkew] = "five minutes"
				env[EnvHTTPTimeout] = "-1s"
				env[EnvRateLimit] = "fast"
				env[EnvRateBurst] = "0"
				env[EnvPageSize] = "ten"
				env[EnvLogLevel] = "loud"
				return env
			}(),
			wantErrIs: ErrInvalidValue,
			wantErrVars: []string{
				EnvExpirySkew, EnvHTTPTimeout, EnvRateLimit, EnvPageSize, EnvLogLevel, EnvRateBurst,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c, err := LoadFrom(testLookup(tt.env))
			if tt.wantErrIs != nil {
				require.Error(err)
				assert.Nil(c)
				assert.ErrorIs(err, tt.wantErrIs)
				var merr *multierror.Error
				require.True(errors.As(err, &merr))
				require.Len(merr.Errors, len(tt.wantErrVars))
				for i, v := range tt.wantErrVars {
					assert.Contains(merr.Errors[i].Error(), v)
				}
				return
			}
			require.NoError(err)
			tt.want(t, c)
		})
	}
}

func TestLoad(t *testing.T) {
	for k, v := range testRequiredEnv() {
		t.Setenv(k, v)
	}
	t.Setenv(EnvPageSize, "25")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, c.PageSize)
}

func TestConfig_ProviderConfig(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := testRequiredEnv()
	env[EnvRevocationURL] = "https://login.example.com/revoke"
	env[EnvHTTPTimeout] = "7s"
	c, err := LoadFrom(testLookup(env))
	require.NoError(err)

	pc, err := c.ProviderConfig()
	require.NoError(err)
	assert.Equal(c.Issuer, pc.Issuer)
	assert.Equal(c.ClientID, pc.ClientID)
	assert.Equal(c.ClientSecret, pc.ClientSecret)
	assert.Equal(c.RedirectURL, pc.RedirectURL)
	assert.Equal([]oidc.Alg{oidc.RS256}, pc.SupportedSigningAlgs)
	assert.Equal([]string{"offline_access"}, pc.Scopes)
	assert.Equal("https://login.example.com/revoke", pc.RevocationURL)
	assert.Equal(7*time.Second, pc.HTTPTimeout)

	c.SigningAlgs = []oidc.Alg{"none"}
	_, err = c.ProviderConfig()
	assert.Error(err)
}
