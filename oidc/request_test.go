// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}
	testVerifier, err := NewCodeVerifier()
	require.NoError(t, err)

	tests := []struct {
		name            string
		expireIn        time.Duration
		redirectURL     string
		opts            []Option
		wantRedirectURL string
		wantAudiences   []string
		wantScopes      []string
		wantVerifier    CodeVerifier
		wantLocales     []language.Tag
		wantIsErr       error
	}{
		{
			name:        "valid-with-all-options",
			expireIn:    time.Minute,
			redirectURL: "https://bob.com/callback",
			opts: []Option{
				WithNow(testNow),
				WithAudiences("bob", "alice"),
				WithScopes("openid", "offline_access", "Calendars.ReadWrite", "offline_access"),
				WithPKCE(testVerifier),
				WithUILocales(language.AmericanEnglish, language.German),
			},
			wantRedirectURL: "https://bob.com/callback",
			wantAudiences:   []string{"bob", "alice"},
			wantScopes:      []string{oidc.ScopeOpenID, "offline_access", "Calendars.ReadWrite"},
			wantVerifier:    testVerifier,
			wantLocales:     []language.Tag{language.AmericanEnglish, language.German},
		},
		{
			name:            "valid-no-opt",
			expireIn:        time.Minute,
			redirectURL:     "https://bob.com/callback",
			wantRedirectURL: "https://bob.com/callback",
		},
		{
			name:        "zero-expireIn",
			expireIn:    0,
			redirectURL: "https://bob.com/callback",
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:      "missing-redirect",
			expireIn:  time.Minute,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewRequest(tt.expireIn, tt.redirectURL, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.True(strings.HasPrefix(got.State(), "st_"))
			assert.True(strings.HasPrefix(got.Nonce(), "n_"))
			assert.NotEqual(got.State(), got.Nonce())
			assert.Equal(tt.wantRedirectURL, got.RedirectURL())
			assert.Equal(tt.wantAudiences, got.Audiences())
			assert.Equal(tt.wantScopes, got.Scopes())
			assert.Equal(tt.wantVerifier, got.PKCEVerifier())
			assert.Equal(tt.wantLocales, got.UILocales())
			assert.False(got.IsExpired())
			assert.WithinDuration(got.now().Add(tt.expireIn), got.Expiration(), time.Second)
		})
	}
}

func TestReq_IsExpired(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	clock := func() time.Time { return now }

	r, err := NewRequest(time.Minute, "https://bob.com/callback", WithNow(clock))
	require.NoError(err)
	assert.False(r.IsExpired())

	now = now.Add(2 * time.Minute)
	assert.True(r.IsExpired())
}
