// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/language"
)

// DefaultRequestTTL is how long a sign-in may wait for its callback.
const DefaultRequestTTL = 10 * time.Minute

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type orchestratorOptions struct {
	withProfileFetcher ProfileFetcher
	withRequestTTL     time.Duration
	withLogger         hclog.Logger
	withClock          clockwork.Clock
	withScopes         []string
	withUILocales      []language.Tag
}

func orchestratorDefaults() orchestratorOptions {
	return orchestratorOptions{
		withRequestTTL: DefaultRequestTTL,
		withLogger:     hclog.NewNullLogger(),
		withClock:      clockwork.NewRealClock(),
	}
}

func getOrchestratorOpts(opt ...Option) orchestratorOptions {
	opts := orchestratorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProfileFetcher enriches newly signed-in accounts with their profile,
// normally from a gateway.Gateway.
func WithProfileFetcher(f ProfileFetcher) Option {
	return func(o interface{}) {
		if o, ok := o.(*orchestratorOptions); ok {
			o.withProfileFetcher = f
		}
	}
}

// WithRequestTTL sets how long a sign-in may wait for its callback.
func WithRequestTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*orchestratorOptions); ok {
			o.withRequestTTL = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*orchestratorOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock for sign-in request expiry.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*orchestratorOptions); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithScopes overrides the provider's configured scopes for sign-in requests.
// openid is always requested.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*orchestratorOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithUILocales sets the preferred languages of the provider's sign-in pages.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*orchestratorOptions); ok {
			o.withUILocales = locales
		}
	}
}
