// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-delegate/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/go-delegate/sdk/http"
)

// DefaultHTTPTimeout bounds every request the provider sends when the config
// doesn't specify one.
const DefaultHTTPTimeout = 30 * time.Second

// Config represents the configuration for an OIDC provider used by a relying
// party.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Scopes is a list of default oidc scopes to request of the provider. The
	// required "oidc" scope is requested by default, and does not need to be
	// part of this optional list. If a Request has scopes, they will override
	// this configured list for a specific authentication attempt.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms.
	SupportedSigningAlgs []Alg

	// Audiences is an optional default list of case-sensitive strings to use
	// when verifying an id_token's "aud" claim.
	Audiences []string

	// RedirectURL is the URL where the provider will redirect responses to
	// authentication requests.
	RedirectURL string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// AuthURL, TokenURL and RevocationURL optionally override the endpoints
	// the provider advertises during discovery.
	AuthURL       string
	TokenURL      string
	RevocationURL string

	// HTTPTimeout bounds every request sent to the provider.
	HTTPTimeout time.Duration

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.
//
// The "oidc" scope will always be added to the new configuration's Scopes,
// regardless of what additional scopes are requested via the WithScopes option
// and duplicate scopes are allowed.
//
//	Supports the options:
//	 * WithProviderCA
//	 * WithScopes
//	 * WithAudiences
//	 * WithEndpoints
//	 * WithHTTPTimeout
//	 * WithNow
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, supported []Alg, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		SupportedSigningAlgs: supported,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		AuthURL:              opts.withAuthURL,
		TokenURL:             opts.withTokenURL,
		RevocationURL:        opts.withRevocationURL,
		HTTPTimeout:          opts.withHTTPTimeout,
		NowFunc:              opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable via
// an http request. SupportedSigningAlgs are validated against the list of
// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512, PS256,
// PS384, PS512, EdDSA
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client ID is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if err := validateURL(c.RedirectURL); err != nil {
		return fmt.Errorf("%s: redirect URL %s is invalid: %w", op, c.RedirectURL, err)
	}
	if err := validateURL(c.Issuer); err != nil {
		return fmt.Errorf("%s: issuer %s is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer)
	}
	for _, e := range []string{c.AuthURL, c.TokenURL, c.RevocationURL} {
		if e == "" {
			continue
		}
		if err := validateURL(e); err != nil {
			return fmt.Errorf("%s: endpoint %s is invalid: %w", op, e, err)
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		return fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
		}
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%s: http timeout is negative: %w", op, ErrInvalidParameter)
	}
	if c.ProviderCA != "" {
		if _, err := sdkHttp.NewClient(c.ProviderCA, 0); err != nil {
			return fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
	}
	return nil
}

// Now will return the current time which can be overridden by the NowFunc
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	timeout := c.HTTPTimeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	client, err := sdkHttp.NewClient(c.ProviderCA, timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("scheme %q is not http or https: %w", u.Scheme, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty: %w", ErrInvalidParameter)
	}
	return nil
}

// configOptions is the set of available options
type configOptions struct {
	withScopes        []string
	withAudiences     []string
	withProviderCA    string
	withAuthURL       string
	withTokenURL      string
	withRevocationURL string
	withHTTPTimeout   time.Duration
	withNowFunc       func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes. Duplicates are dropped.
// Valid for: NewConfig and NewRequest
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		deduped := strutils.RemoveDuplicatesStable(scopes, false)
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = deduped
		case *reqOptions:
			v.withScopes = deduped
		}
	}
}

// WithAudiences provides an optional list of audiences.
// Valid for: NewConfig and NewRequest
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAudiences = auds
		case *reqOptions:
			v.withAudiences = auds
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config. These certs will can be used when making http requests to the
// provider. Valid for: NewConfig
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithEndpoints provides optional authorization, token and revocation
// endpoints which take precedence over the ones found during discovery. Empty
// values keep the discovered endpoint. Valid for: NewConfig
func WithEndpoints(authURL, tokenURL, revocationURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAuthURL = authURL
			o.withTokenURL = tokenURL
			o.withRevocationURL = revocationURL
		}
	}
}

// WithHTTPTimeout provides an optional timeout for every request sent to the
// provider. Valid for: NewConfig
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHTTPTimeout = d
		}
	}
}
