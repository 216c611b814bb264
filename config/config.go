// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config loads the settings of a delegating web application from its
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-delegate/broker"
	"github.com/hashicorp/go-delegate/gateway"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/hashicorp/go-delegate/signin"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"
)

var (
	ErrMissingVariable = errors.New("required environment variable not set")
	ErrInvalidValue    = errors.New("invalid environment variable value")
)

// Environment variable names.
const (
	EnvIssuer        = "DELEGATE_ISSUER"
	EnvClientID      = "DELEGATE_CLIENT_ID"
	EnvClientSecret  = "DELEGATE_CLIENT_SECRET"
	EnvRedirectURL   = "DELEGATE_REDIRECT_URL"
	EnvAPIBaseURL    = "DELEGATE_API_BASE_URL"
	EnvScopes        = "DELEGATE_SCOPES"
	EnvSigningAlgs   = "DELEGATE_SIGNING_ALGS"
	EnvProviderCA    = "DELEGATE_PROVIDER_CA"
	EnvAuthURL       = "DELEGATE_AUTH_URL"
	EnvTokenURL      = "DELEGATE_TOKEN_URL"
	EnvRevocationURL = "DELEGATE_REVOCATION_URL"
	EnvExpirySkew    = "DELEGATE_EXPIRY_SKEW"
	EnvHTTPTimeout   = "DELEGATE_HTTP_TIMEOUT"
	EnvSessionTTL    = "DELEGATE_SESSION_TTL"
	EnvRequestTTL    = "DELEGATE_REQUEST_TTL"
	EnvRateLimit     = "DELEGATE_RATE_LIMIT"
	EnvRateBurst     = "DELEGATE_RATE_BURST"
	EnvPageSize      = "DELEGATE_PAGE_SIZE"
	EnvLogLevel      = "DELEGATE_LOG_LEVEL"
	EnvListenAddr    = "DELEGATE_LISTEN_ADDR"
)

const (
	// DefaultSessionTTL is how long a signed-in account is kept without a new
	// sign-in.
	DefaultSessionTTL = 24 * time.Hour

	DefaultListenAddr = ":3000"
)

// Config holds the application's settings. Load it once at startup.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret oidc.ClientSecret
	RedirectURL  string
	APIBaseURL   string

	// Scopes are requested in addition to openid.
	Scopes      []string
	SigningAlgs []oidc.Alg
	ProviderCA  string

	// AuthURL, TokenURL and RevocationURL override the discovered endpoints.
	AuthURL       string
	TokenURL      string
	RevocationURL string

	ExpirySkew  time.Duration
	HTTPTimeout time.Duration
	SessionTTL  time.Duration
	RequestTTL  time.Duration

	// RateLimit is the number of API calls allowed per second. Zero means
	// unlimited.
	RateLimit float64
	RateBurst int
	PageSize  int

	LogLevel   hclog.Level
	ListenAddr string
}

// LookupFunc returns the value of an environment variable and whether it's
// set. os.LookupEnv is one.
type LookupFunc func(key string) (string, bool)

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration using lookup. Every missing or invalid
// variable is reported in the returned error.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	const op = "config.LoadFrom"
	l := &loader{lookup: lookup}
	c := &Config{
		Issuer:       l.required(EnvIssuer),
		ClientID:     l.required(EnvClientID),
		ClientSecret: oidc.ClientSecret(l.required(EnvClientSecret)),
		RedirectURL:  l.required(EnvRedirectURL),
		APIBaseURL:   l.required(EnvAPIBaseURL),

		Scopes:        l.list(EnvScopes, []string{"offline_access"}),
		ProviderCA:    l.str(EnvProviderCA, ""),
		AuthURL:       l.str(EnvAuthURL, ""),
		TokenURL:      l.str(EnvTokenURL, ""),
		RevocationURL: l.str(EnvRevocationURL, ""),

		ExpirySkew:  l.duration(EnvExpirySkew, broker.DefaultExpirySkew),
		HTTPTimeout: l.duration(EnvHTTPTimeout, oidc.DefaultHTTPTimeout),
		SessionTTL:  l.duration(EnvSessionTTL, DefaultSessionTTL),
		RequestTTL:  l.duration(EnvRequestTTL, signin.DefaultRequestTTL),

		RateLimit: l.number(EnvRateLimit, 0),
		RateBurst: l.integer(EnvRateBurst, 1),
		PageSize:  l.integer(EnvPageSize, gateway.DefaultPageSize),

		LogLevel:   l.logLevel(EnvLogLevel, hclog.Info),
		ListenAddr: l.str(EnvListenAddr, DefaultListenAddr),
	}
	for _, a := range l.list(EnvSigningAlgs, []string{string(oidc.RS256)}) {
		c.SigningAlgs = append(c.SigningAlgs, oidc.Alg(a))
	}
	if c.RateLimit < 0 {
		l.invalid(EnvRateLimit, "must not be negative")
	}
	if c.RateBurst < 1 {
		l.invalid(EnvRateBurst, "must be at least 1")
	}
	if c.PageSize < 1 {
		l.invalid(EnvPageSize, "must be at least 1")
	}
	if err := l.errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// ProviderConfig returns the identity provider configuration.
func (c *Config) ProviderConfig() (*oidc.Config, error) {
	const op = "Config.ProviderConfig"
	pc, err := oidc.NewConfig(c.Issuer, c.ClientID, c.ClientSecret, c.SigningAlgs, c.RedirectURL,
		oidc.WithScopes(c.Scopes...),
		oidc.WithProviderCA(c.ProviderCA),
		oidc.WithEndpoints(c.AuthURL, c.TokenURL, c.RevocationURL),
		oidc.WithHTTPTimeout(c.HTTPTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pc, nil
}

// RateLimiter returns the limiter for API calls, or nil when calls aren't
// limited.
func (c *Config) RateLimiter() *rate.Limiter {
	if c.RateLimit == 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RateLimit), c.RateBurst)
}

type loader struct {
	lookup LookupFunc
	errs   *multierror.Error
}

func (l *loader) get(key string) (string, bool) {
	v, ok := l.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l *loader) invalid(key, reason string) {
	l.errs = multierror.Append(l.errs, fmt.Errorf("%s %s: %w", key, reason, ErrInvalidValue))
}

func (l *loader) required(key string) string {
	v, ok := l.get(key)
	if !ok {
		l.errs = multierror.Append(l.errs, fmt.Errorf("%s: %w", key, ErrMissingVariable))
	}
	return v
}

func (l *loader) str(key, def string) string {
	if v, ok := l.get(key); ok {
		return v
	}
	return def
}

// list splits on commas and whitespace.
func (l *loader) list(key string, def []string) []string {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		l.invalid(key, fmt.Sprintf("%q is not a non-negative duration", v))
		return def
	}
	return d
}

func (l *loader) integer(key string, def int) int {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		l.invalid(key, fmt.Sprintf("%q is not an integer", v))
		return def
	}
	return i
}

func (l *loader) number(key string, def float64) float64 {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.invalid(key, fmt.Sprintf("%q is not a number", v))
		return def
	}
	return f
}

func (l *loader) logLevel(key string, def hclog.Level) hclog.Level {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	lvl := hclog.LevelFromString(v)
	if lvl == hclog.NoLevel {
		l.invalid(key, fmt.Sprintf("%q is not a log level", v))
		return def
	}
	return lvl
}
