// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package broker hands out currently valid delegated access tokens for
// signed-in accounts, refreshing them with the provider when they're about to
// expire.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-delegate/account"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenProvider is the part of an oidc.Provider the broker depends on.
type TokenProvider interface {
	Exchange(ctx context.Context, r oidc.Request, state, code string) (*oidc.Tk, error)
	Refresh(ctx context.Context, t oidc.RefreshToken) (*oidc.Tk, error)
	Revoke(ctx context.Context, t oidc.RefreshToken) error
}

// ensure that oidc.Provider implements the TokenProvider interface.
var _ TokenProvider = (*oidc.Provider)(nil)

// Broker returns valid access tokens for accounts in its Store. There's at
// most one refresh in flight per account; concurrent callers share its
// result. Refresh material never leaves the broker.
type Broker struct {
	provider TokenProvider
	store    account.Store
	group    singleflight.Group

	skew           time.Duration
	refreshTimeout time.Duration
	clock          clockwork.Clock
	logger         hclog.Logger
	metrics        *metrics
}

// NewBroker creates a new Broker.
//
//	Supports the options:
//	 * WithExpirySkew
//	 * WithRefreshTimeout
//	 * WithClock
//	 * WithLogger
//	 * WithMetrics
func NewBroker(p TokenProvider, s account.Store, opt ...Option) (*Broker, error) {
	const op = "broker.NewBroker"
	if p == nil {
		return nil, fmt.Errorf("%s: token provider is nil: %w", op, ErrNilParameter)
	}
	if s == nil {
		return nil, fmt.Errorf("%s: account store is nil: %w", op, ErrNilParameter)
	}
	opts := getBrokerOpts(opt...)
	if opts.withExpirySkew < 0 {
		return nil, fmt.Errorf("%s: negative expiry skew: %w", op, ErrInvalidParameter)
	}
	if opts.withRefreshTimeout <= 0 {
		return nil, fmt.Errorf("%s: refresh timeout must be positive: %w", op, ErrInvalidParameter)
	}
	m, err := newMetrics(opts.withRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Broker{
		provider:       p,
		store:          s,
		skew:           opts.withExpirySkew,
		refreshTimeout: opts.withRefreshTimeout,
		clock:          opts.withClock,
		logger:         opts.withLogger.Named("broker"),
		metrics:        m,
	}, nil
}

// AccessToken returns a valid access token for the account. A cached token
// which doesn't expire within the skew is returned without a network call.
// Otherwise the token is refreshed.
//
// It fails with ErrNoSuchAccount when there's no account for the key,
// ErrReauthRequired when the account has no usable refresh material, and
// ErrTokenServiceUnavailable for every other refresh failure.
func (b *Broker) AccessToken(ctx context.Context, key string) (string, error) {
	const op = "Broker.AccessToken"
	t, err := b.token(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return t.AccessToken, nil
}

// TokenSource returns an oauth2.TokenSource for the account, for use with
// oauth2.NewClient. Every Token() call goes through the broker, so the
// source never needs to be wrapped in oauth2.ReuseTokenSource.
func (b *Broker) TokenSource(ctx context.Context, key string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, broker: b, key: key}
}

type tokenSource struct {
	ctx    context.Context
	broker *Broker
	key    string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	return s.broker.token(s.ctx, s.key)
}

func (b *Broker) token(ctx context.Context, key string) (*oauth2.Token, error) {
	if key == "" {
		return nil, fmt.Errorf("account key is empty: %w", ErrInvalidParameter)
	}
	a, err := b.account(ctx, key)
	if err != nil {
		return nil, err
	}
	if a.Credential.UsableAt(b.clock.Now(), b.skew) {
		b.metrics.tokenServed(resultCached)
		return bearer(a.Credential), nil
	}

	// the refresh isn't tied to the cancellation of whichever caller
	// happened to start it.
	refreshCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(key, func() (interface{}, error) {
		return b.refresh(refreshCtx, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		b.metrics.tokenServed(resultRefreshed)
		return bearer(res.Val.(*account.Credential)), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("gave up waiting for refresh: %w", ctx.Err())
	}
}

// refresh runs at most once at a time per key.
func (b *Broker) refresh(ctx context.Context, key string) (*account.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, b.refreshTimeout)
	defer cancel()
	logger := b.logger.With("account", key)

	// another refresh may have completed between the caller's read and
	// this one.
	a, err := b.account(ctx, key)
	if err != nil {
		return nil, err
	}
	if a.Credential.UsableAt(b.clock.Now(), b.skew) {
		return a.Credential, nil
	}
	if a.Credential == nil || a.Credential.RefreshToken == "" {
		logger.Debug("no refresh material")
		return nil, fmt.Errorf("account has no refresh token: %w", ErrReauthRequired)
	}

	start := b.clock.Now()
	tk, err := b.provider.Refresh(ctx, a.Credential.RefreshToken)
	took := b.clock.Since(start)
	switch {
	case err == nil:
	case errors.Is(err, oidc.ErrInvalidGrant):
		b.metrics.refreshed(outcomeReauth, took)
		logger.Info("refresh token rejected by provider", "error", err)
		return nil, fmt.Errorf("refresh rejected: %w: %w", ErrReauthRequired, err)
	default:
		b.metrics.refreshed(outcomeUnavailable, took)
		logger.Warn("refresh failed", "error", err)
		return nil, fmt.Errorf("refresh failed: %w: %w", ErrTokenServiceUnavailable, err)
	}
	b.metrics.refreshed(outcomeSuccess, took)

	c := account.NewCredential(tk)
	if c.RefreshToken == "" {
		c.RefreshToken = a.Credential.RefreshToken
	}
	if c.IDToken == "" {
		c.IDToken = a.Credential.IDToken
	}
	if len(c.Scopes) == 0 {
		c.Scopes = a.Credential.Scopes
	}

	_, err = b.store.UpdateCredential(ctx, key, a.Version, c)
	switch {
	case err == nil:
		logger.Debug("refreshed access token", "expiry", c.Expiry)
	case errors.Is(err, account.ErrVersionConflict):
		// the account was replaced while refreshing, most likely by a new
		// sign-in. Its credential wins; this token is still good to use.
		logger.Debug("account changed during refresh, not storing refreshed token")
	case errors.Is(err, account.ErrNotFound):
		logger.Debug("account removed during refresh")
		return nil, fmt.Errorf("account removed during refresh: %w", ErrNoSuchAccount)
	default:
		return nil, fmt.Errorf("unable to store refreshed credential: %w", err)
	}
	return c, nil
}

// Redeem exchanges the authorization code for the user's token material.
// Every failure matches ErrCodeExchange.
func (b *Broker) Redeem(ctx context.Context, r oidc.Request, state, code string) (*account.Credential, error) {
	const op = "Broker.Redeem"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w: %w", op, ErrCodeExchange, ErrNilParameter)
	}
	tk, err := b.provider.Exchange(ctx, r, state, code)
	if err != nil {
		b.logger.Debug("code exchange failed", "error", err)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCodeExchange, err)
	}
	return account.NewCredential(tk), nil
}

// Evict removes the account and then asks the provider to revoke its refresh
// token. The account is gone even when revocation fails, in which case the
// error matches ErrRevocationFailed. Evicting a missing account is not an
// error.
func (b *Broker) Evict(ctx context.Context, key string) error {
	const op = "Broker.Evict"
	if key == "" {
		return fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	a, err := b.store.Get(ctx, key)
	switch {
	case errors.Is(err, account.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b.group.Forget(key)

	if a.Credential == nil || a.Credential.RefreshToken == "" {
		return nil
	}
	switch err := b.provider.Revoke(ctx, a.Credential.RefreshToken); {
	case err == nil:
		return nil
	case errors.Is(err, oidc.ErrNotSupported):
		b.logger.Debug("provider doesn't support revocation", "account", key)
		return nil
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrRevocationFailed, err)
	}
}

func (b *Broker) account(ctx context.Context, key string) (*account.Account, error) {
	a, err := b.store.Get(ctx, key)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, account.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", ErrNoSuchAccount, err)
	default:
		return nil, err
	}
}

func bearer(c *account.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: string(c.AccessToken),
		TokenType:   "Bearer",
		Expiry:      c.Expiry,
	}
}
