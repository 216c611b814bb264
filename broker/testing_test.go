// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-delegate/account"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testRedirectURL = "https://example.com/auth/callback"

// testBroker returns a broker wired to a running oidc.TestProvider.
func testBroker(t *testing.T, opt ...Option) (*oidc.TestProvider, *account.MemStore, *Broker) {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	p, err := oidc.NewProvider(tp.Config(t, testRedirectURL))
	require.NoError(err)
	t.Cleanup(p.Done)
	s, err := account.NewMemStore()
	require.NoError(err)
	b, err := NewBroker(p, s, opt...)
	require.NoError(err)
	return tp, s, b
}

// testPutAccount stores an account whose access token expires at expiry.
func testPutAccount(t *testing.T, s account.Store, key string, expiry time.Time, refreshToken string) *account.Account {
	t.Helper()
	a := &account.Account{
		Key:         key,
		DisplayName: "Alice Doe-Smith",
		Email:       "alice@example.com",
		Credential: &account.Credential{
			AccessToken:  "at_cached",
			Expiry:       expiry,
			RefreshToken: oidc.RefreshToken(refreshToken),
			Scopes:       []string{"openid", "offline_access"},
		},
	}
	require.NoError(t, s.Put(context.Background(), a))
	return a
}

// testTokenProvider is a TokenProvider with a scripted Refresh.
type testTokenProvider struct {
	refresh  func(ctx context.Context, t oidc.RefreshToken) (*oidc.Tk, error)
	refreshN atomic.Int32
	revoked  atomic.Int32
}

func (p *testTokenProvider) Exchange(context.Context, oidc.Request, string, string) (*oidc.Tk, error) {
	return nil, oidc.ErrNotSupported
}

func (p *testTokenProvider) Refresh(ctx context.Context, t oidc.RefreshToken) (*oidc.Tk, error) {
	p.refreshN.Add(1)
	return p.refresh(ctx, t)
}

func (p *testTokenProvider) Revoke(context.Context, oidc.RefreshToken) error {
	p.revoked.Add(1)
	return nil
}

func testToken(t *testing.T, accessToken string, expiry time.Time) *oidc.Tk {
	t.Helper()
	tk, err := oidc.NewToken("", &oauth2.Token{AccessToken: accessToken, Expiry: expiry})
	require.NoError(t, err)
	return tk
}
