// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultExpirySkew is how long before its expiry an access token stops
	// being handed out.
	DefaultExpirySkew = 5 * time.Minute

	// DefaultRefreshTimeout bounds a refresh shared by concurrent callers.
	DefaultRefreshTimeout = 30 * time.Second
)

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

type brokerOptions struct {
	withExpirySkew     time.Duration
	withRefreshTimeout time.Duration
	withClock          clockwork.Clock
	withLogger         hclog.Logger
	withRegisterer     prometheus.Registerer
}

func brokerDefaults() brokerOptions {
	return brokerOptions{
		withExpirySkew:     DefaultExpirySkew,
		withRefreshTimeout: DefaultRefreshTimeout,
		withClock:          clockwork.NewRealClock(),
		withLogger:         hclog.NewNullLogger(),
	}
}

func getBrokerOpts(opt ...Option) brokerOptions {
	opts := brokerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithExpirySkew provides an optional margin before an access token's expiry
// at which the broker refreshes it instead of handing it out.
func WithExpirySkew(skew time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*brokerOptions); ok {
			o.withExpirySkew = skew
		}
	}
}

// WithRefreshTimeout provides an optional bound on a refresh. The refresh
// isn't canceled when one of the callers waiting for it gives up.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*brokerOptions); ok {
			o.withRefreshTimeout = d
		}
	}
}

// WithClock provides an optional clock for expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*brokerOptions); ok && clock != nil {
			o.withClock = clock
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*brokerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithMetrics registers the broker's metrics with the registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*brokerOptions); ok {
			o.withRegisterer = reg
		}
	}
}
