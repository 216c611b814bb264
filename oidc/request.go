// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/text/language"
)

// Request basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting.
//
// Request.State() is passed throughout the OIDC interactions to uniquely
// identify the flow's request. The Request.State() and Request.Nonce() cannot
// be equal, and will be used during the OIDC flow to prevent CSRF and replay
// attacks (see the oidc spec for specifics).
type Request interface {
	// State is a unique identifier and an opaque value used to maintain
	// request between the oidc request and the callback. State cannot equal
	// the Nonce.
	State() string

	// Nonce is a unique nonce and a string value used to associate a Client
	// session with an ID Token, and to mitigate replay attacks. Nonce cannot
	// equal the ID.
	Nonce() string

	// IsExpired returns true if the request has expired.
	IsExpired() bool

	// Expiration returns the time the request expires.
	Expiration() time.Time

	// RedirectURL is a URL where providers will redirect responses to
	// authentication requests.
	RedirectURL() string

	// Scopes is a specific set of scopes to request for this authentication
	// attempt. The required "openid" scope is always the first one.
	Scopes() []string

	// Audiences is a specific set of audiences to verify for this
	// authentication attempt's id_token.
	Audiences() []string

	// PKCEVerifier is the PKCE code verifier for this authentication attempt.
	PKCEVerifier() CodeVerifier

	// UILocales specifies the End-User's preferred languages for the
	// provider's login pages.
	UILocales() []language.Tag
}

// Req represents the oidc request used for oidc flows and implements the
// Request interface.
type Req struct {
	// state is a unique identifier and an opaque value used to maintain
	// request between the oidc request and the callback.
	state string

	// nonce is a unique nonce and suitable for use as an oidc nonce.
	nonce string

	// expiration is the expiration time for the Request.
	expiration time.Time

	// redirectURL is a URL where providers will redirect responses to
	// authentication requests.
	redirectURL string

	// scopes is a specific set of scopes to request for this authentication
	// attempt.
	scopes []string

	// audiences is an specific set of audiences to verify for this
	// authentication attempt's id_token.
	audiences []string

	// withVerifier is the PKCE code verifier for this authentication attempt.
	withVerifier CodeVerifier

	// uiLocales are the End-User's preferred languages.
	uiLocales []language.Tag

	// nowFunc is an optional function that returns the current time
	nowFunc func() time.Time
}

// ensure that Req implements the Request interface.
var _ Request = (*Req)(nil)

// NewRequest creates a new Request (*Req).
//
//	Supports the options:
//	 * WithNow
//	 * WithScopes
//	 * WithAudiences
//	 * WithPKCE
//	 * WithUILocales
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Req, error) {
	const op = "oidc.NewRequest"
	opts := getReqOpts(opt...)
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
	}

	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
	}

	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	r := &Req{
		state:        state,
		nonce:        nonce,
		redirectURL:  redirectURL,
		nowFunc:      opts.withNowFunc,
		audiences:    opts.withAudiences,
		withVerifier: opts.withVerifier,
		uiLocales:    opts.withUILocales,
	}
	r.expiration = r.now().Add(expireIn)
	if len(opts.withScopes) > 0 {
		r.scopes = make([]string, 0, len(opts.withScopes)+1)
		r.scopes = append(r.scopes, oidc.ScopeOpenID)
		for _, s := range opts.withScopes {
			if s != oidc.ScopeOpenID {
				r.scopes = append(r.scopes, s)
			}
		}
	}
	return r, nil
}

func (r *Req) State() string              { return r.state }        // State implements the Request.State() interface function.
func (r *Req) Nonce() string              { return r.nonce }        // Nonce implements the Request.Nonce() interface function.
func (r *Req) Expiration() time.Time      { return r.expiration }   // Expiration implements the Request.Expiration() interface function.
func (r *Req) RedirectURL() string        { return r.redirectURL }  // RedirectURL implements the Request.RedirectURL() interface function.
func (r *Req) Scopes() []string           { return r.scopes }       // Scopes implements the Request.Scopes() interface function.
func (r *Req) Audiences() []string        { return r.audiences }    // Audiences implements the Request.Audiences() interface function.
func (r *Req) PKCEVerifier() CodeVerifier { return r.withVerifier } // PKCEVerifier implements the Request.PKCEVerifier() interface function.
func (r *Req) UILocales() []language.Tag  { return r.uiLocales }    // UILocales implements the Request.UILocales() interface function.

// IsExpired returns true if the request has expired.
func (r *Req) IsExpired() bool {
	return r.expiration.Before(r.now())
}

// now returns the current time using the optional timeFn
func (r *Req) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now() // fallback to this default
}

// reqOptions is the set of available options for Req functions
type reqOptions struct {
	withNowFunc   func() time.Time
	withScopes    []string
	withAudiences []string
	withVerifier  CodeVerifier
	withUILocales []language.Tag
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides an option to use a CodeVerifier with the authorization
// code flow. Valid for: NewRequest
//
// See: https://tools.ietf.org/html/rfc7636
func WithPKCE(v CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithUILocales optionally specifies End-User's preferred languages via
// language Tags, ordered by preference. Valid for: NewRequest
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withUILocales = locales
		}
	}
}
