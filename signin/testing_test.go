// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/hashicorp/go-delegate/account"
	"github.com/hashicorp/go-delegate/broker"
	"github.com/hashicorp/go-delegate/gateway"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/stretchr/testify/require"
)

const (
	testRedirectURL = "https://example.com/auth/callback"
	testAuthCode    = "test-auth-code"
)

type testRig struct {
	tp       *oidc.TestProvider
	provider *oidc.Provider
	store    *account.MemStore
	broker   *broker.Broker
	o        *Orchestrator
}

// testOrchestrator returns an orchestrator wired to a running
// oidc.TestProvider which issues testAuthCode.
func testOrchestrator(t *testing.T, opt ...Option) *testRig {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	tp.SetExpectedAuthCode(testAuthCode)
	p, err := oidc.NewProvider(tp.Config(t, testRedirectURL))
	require.NoError(err)
	t.Cleanup(p.Done)
	s, err := account.NewMemStore()
	require.NoError(err)
	b, err := broker.NewBroker(p, s)
	require.NoError(err)
	o, err := NewOrchestrator(p, b, s, testRedirectURL, opt...)
	require.NoError(err)
	return &testRig{tp: tp, provider: p, store: s, broker: b, o: o}
}

// testAuthorize plays the user agent: it follows authURL to the provider and
// returns the state and code from the provider's redirect.
func testAuthorize(t *testing.T, tp *oidc.TestProvider, authURL string) (state, code string) {
	t.Helper()
	require := require.New(t)
	// each sign-in carries a new nonce
	tp.SetExpectedAuthNonce("")
	resp, err := tp.HTTPClient().Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Empty(loc.Query().Get("error"))
	return loc.Query().Get("state"), loc.Query().Get("code")
}

// testSignIn runs a complete sign-in for the session and returns the
// account key.
func testSignIn(t *testing.T, rig *testRig, sessionID string) string {
	t.Helper()
	require := require.New(t)
	authURL, err := rig.o.BeginSignIn(context.Background(), sessionID)
	require.NoError(err)
	state, code := testAuthorize(t, rig.tp, authURL)
	key, err := rig.o.CompleteSignIn(context.Background(), sessionID, state, code)
	require.NoError(err)
	return key
}

// testProfileFetcher returns a fixed profile or error, and records whether
// the account was already stored when it was asked.
type testProfileFetcher struct {
	store   account.Store
	profile *gateway.Profile
	err     error

	calls        int
	accountFound bool
}

func (f *testProfileFetcher) FetchProfile(ctx context.Context, key string) (*gateway.Profile, error) {
	f.calls++
	_, err := f.store.Get(ctx, key)
	f.accountFound = err == nil
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}
