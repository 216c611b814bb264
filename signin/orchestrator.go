// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package signin drives the redirect based sign-in handshake: it builds the
// provider's authorization URL, redeems the callback's code through the
// broker, stores the signed-in account and signs it out again.
package signin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-delegate/account"
	"github.com/hashicorp/go-delegate/broker"
	"github.com/hashicorp/go-delegate/gateway"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/language"
)

// AuthURLProvider builds authorization URLs. oidc.Provider implements it.
type AuthURLProvider interface {
	AuthURL(ctx context.Context, r oidc.Request) (string, error)
}

// ensure that oidc.Provider implements the AuthURLProvider interface.
var _ AuthURLProvider = (*oidc.Provider)(nil)

// ProfileFetcher returns the profile of a signed-in account.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, key string) (*gateway.Profile, error)
}

// ensure that gateway.Gateway implements the ProfileFetcher interface.
var _ ProfileFetcher = (*gateway.Gateway)(nil)

// Orchestrator tracks the sign-in phase of each session. Sessions are
// identified by an opaque id chosen by the caller, typically its web session
// id.
type Orchestrator struct {
	provider    AuthURLProvider
	broker      *broker.Broker
	store       account.Store
	redirectURL string

	fetcher    ProfileFetcher
	requestTTL time.Duration
	logger     hclog.Logger
	clock      clockwork.Clock
	scopes     []string
	uiLocales  []language.Tag

	mu        sync.Mutex
	sessions  map[string]*session
	lastPrune time.Time
}

type session struct {
	phase      Phase
	pending    oidc.Request
	accountKey string
}

// current is the session's phase with an expired pending sign-in treated as
// abandoned.
func (s *session) current() Phase {
	if s.pending == nil || !s.pending.IsExpired() {
		return s.phase
	}
	if s.accountKey != "" {
		return SignedIn
	}
	return Anonymous
}

// NewOrchestrator creates a new Orchestrator. The broker and the store must
// share the same accounts.
//
//	Supports the options:
//	 * WithProfileFetcher
//	 * WithRequestTTL
//	 * WithLogger
//	 * WithClock
//	 * WithScopes
//	 * WithUILocales
func NewOrchestrator(p AuthURLProvider, b *broker.Broker, s account.Store, redirectURL string, opt ...Option) (*Orchestrator, error) {
	const op = "signin.NewOrchestrator"
	switch {
	case p == nil:
		return nil, fmt.Errorf("%s: auth url provider is nil: %w", op, ErrNilParameter)
	case b == nil:
		return nil, fmt.Errorf("%s: broker is nil: %w", op, ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: account store is nil: %w", op, ErrNilParameter)
	case redirectURL == "":
		return nil, fmt.Errorf("%s: redirect url is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOrchestratorOpts(opt...)
	if opts.withRequestTTL <= 0 {
		return nil, fmt.Errorf("%s: request ttl must be positive: %w", op, ErrInvalidParameter)
	}
	return &Orchestrator{
		provider:    p,
		broker:      b,
		store:       s,
		redirectURL: redirectURL,
		fetcher:     opts.withProfileFetcher,
		requestTTL:  opts.withRequestTTL,
		logger:      opts.withLogger,
		clock:       opts.withClock,
		scopes:      opts.withScopes,
		uiLocales:   opts.withUILocales,
		sessions:    map[string]*session{},
	}, nil
}

// Phase returns the session's phase. Unknown sessions, and sessions whose
// sign-in expired before it completed, are Anonymous.
func (o *Orchestrator) Phase(sessionID string) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[sessionID]; ok {
		return s.current()
	}
	return Anonymous
}

// AccountKey returns the key of the account signed in on the session, if any.
func (o *Orchestrator) AccountKey(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[sessionID]; ok && s.accountKey != "" {
		return s.accountKey, true
	}
	return "", false
}

// BeginSignIn starts a sign-in for the session and returns the URL to send
// the user agent to. Each call issues a fresh state, nonce and PKCE verifier,
// replacing any sign-in still pending for the session.
func (o *Orchestrator) BeginSignIn(ctx context.Context, sessionID string) (string, error) {
	const op = "Orchestrator.BeginSignIn"
	if sessionID == "" {
		return "", fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	reqOpts := []oidc.Option{
		oidc.WithNow(o.clock.Now),
		oidc.WithPKCE(v),
		oidc.WithUILocales(o.uiLocales...),
	}
	if len(o.scopes) > 0 {
		reqOpts = append(reqOpts, oidc.WithScopes(o.scopes...))
	}
	r, err := oidc.NewRequest(o.requestTTL, o.redirectURL, reqOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := o.provider.AuthURL(ctx, r)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.prune()
	s := o.session(sessionID)
	s.phase = AwaitingCallback
	s.pending = r
	o.logger.Debug("sign-in started", "session", sessionID, "expires", r.Expiration())
	return authURL, nil
}

// CompleteSignIn finishes the session's pending sign-in with the callback's
// state and code, and returns the signed-in account's key. The pending
// sign-in is consumed whatever the outcome. On failure the session is
// Anonymous and the store is left untouched.
func (o *Orchestrator) CompleteSignIn(ctx context.Context, sessionID, state, code string) (string, error) {
	const op = "Orchestrator.CompleteSignIn"
	pending := o.takePending(sessionID)
	switch {
	case pending == nil:
		return "", fmt.Errorf("%s: no sign-in pending: %w", op, ErrStateMismatch)
	case subtle.ConstantTimeCompare([]byte(pending.State()), []byte(state)) != 1:
		o.logger.Warn("callback state doesn't match the pending sign-in", "session", sessionID)
		return "", fmt.Errorf("%s: %w", op, ErrStateMismatch)
	case pending.IsExpired():
		return "", fmt.Errorf("%s: sign-in expired: %w: %w", op, ErrStateMismatch, oidc.ErrExpiredRequest)
	}

	cred, err := o.broker.Redeem(ctx, pending, state, code)
	if err != nil {
		o.logger.Warn("code exchange failed", "session", sessionID, "error", err)
		return "", fmt.Errorf("%s: %w: %w", op, ErrCodeExchangeFailed, err)
	}
	var claims idTokenClaims
	if err := cred.IDToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrCodeExchangeFailed, err)
	}
	key := claims.accountKey()
	if key == "" {
		return "", fmt.Errorf("%s: %w: %w", op, ErrCodeExchangeFailed, ErrMissingSubject)
	}

	a := &account.Account{
		Key:         key,
		DisplayName: claims.Name,
		Email:       claims.email(),
		Credential:  cred,
	}
	if err := o.store.Put(ctx, a); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	o.enrich(ctx, key)

	o.mu.Lock()
	s := o.session(sessionID)
	s.accountKey = key
	if s.pending == nil {
		s.phase = SignedIn
	}
	o.mu.Unlock()
	o.logger.Info("signed in", "session", sessionID, "account", key)
	return key, nil
}

// SignOut evicts the account, revoking its refresh token with the provider
// when possible, and forgets every session signed in as the account.
// Revocation failures are logged and don't fail the sign-out.
func (o *Orchestrator) SignOut(ctx context.Context, accountKey string) error {
	const op = "Orchestrator.SignOut"
	if accountKey == "" {
		return fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	err := o.broker.Evict(ctx, accountKey)
	switch {
	case errors.Is(err, broker.ErrRevocationFailed):
		o.logger.Warn("unable to revoke refresh token", "account", accountKey, "error", err)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range o.sessions {
		if s.accountKey == accountKey {
			delete(o.sessions, id)
		}
	}
	o.logger.Info("signed out", "account", accountKey)
	return nil
}

// Abandon drops the session's pending sign-in, for example when the provider
// reports an error in its callback.
func (o *Orchestrator) Abandon(sessionID string) {
	_ = o.takePending(sessionID)
}

// Forget drops everything known about the session. The account it was
// signed in as stays signed in.
func (o *Orchestrator) Forget(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, sessionID)
}

// Rekey moves everything known about the session to newID and forgets
// oldID. Callers rotate their session id with it once a sign-in completes,
// so an id handed out before sign-in can't be used to act as the account.
func (o *Orchestrator) Rekey(oldID, newID string) error {
	const op = "Orchestrator.Rekey"
	switch {
	case oldID == "":
		return fmt.Errorf("%s: old session id is empty: %w", op, ErrInvalidParameter)
	case newID == "":
		return fmt.Errorf("%s: new session id is empty: %w", op, ErrInvalidParameter)
	case oldID == newID:
		return fmt.Errorf("%s: session ids are the same: %w", op, ErrInvalidParameter)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[oldID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrUnknownSession)
	}
	if _, ok := o.sessions[newID]; ok {
		return fmt.Errorf("%s: new session id is in use: %w", op, ErrInvalidParameter)
	}
	delete(o.sessions, oldID)
	o.sessions[newID] = s
	return nil
}

// takePending removes and returns the session's pending request, returning
// the session to Anonymous.
func (o *Orchestrator) takePending(sessionID string) oidc.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}
	pending := s.pending
	s.pending = nil
	s.accountKey = ""
	s.phase = Anonymous
	return pending
}

// prune drops sessions holding nothing but an expired or consumed sign-in,
// and expired sign-ins of signed-in sessions. It scans at most once per
// request TTL. Called with o.mu held.
func (o *Orchestrator) prune() {
	now := o.clock.Now()
	if now.Sub(o.lastPrune) < o.requestTTL {
		return
	}
	o.lastPrune = now
	for id, s := range o.sessions {
		if s.pending != nil && s.pending.IsExpired() {
			s.phase = s.current()
			s.pending = nil
		}
		if s.pending == nil && s.accountKey == "" {
			delete(o.sessions, id)
		}
	}
}

// session is called with o.mu held.
func (o *Orchestrator) session(sessionID string) *session {
	s, ok := o.sessions[sessionID]
	if !ok {
		s = &session{}
		o.sessions[sessionID] = s
	}
	return s
}

// enrich replaces the id_token's profile claims with the fetcher's profile.
// Failures are logged and the claims are kept.
func (o *Orchestrator) enrich(ctx context.Context, key string) {
	if o.fetcher == nil {
		return
	}
	p, err := o.fetcher.FetchProfile(ctx, key)
	if err != nil {
		o.logger.Warn("unable to fetch profile, keeping id_token claims", "account", key, "error", err)
		return
	}
	a, err := o.store.Get(ctx, key)
	if err != nil {
		o.logger.Warn("unable to read account for profile update", "account", key, "error", err)
		return
	}
	if p.DisplayName != "" {
		a.DisplayName = p.DisplayName
	}
	if p.Email != "" {
		a.Email = p.Email
	}
	a.TimeZone = p.TimeZone
	if err := o.store.Put(ctx, a); err != nil {
		o.logger.Warn("unable to store profile", "account", key, "error", err)
	}
}
