// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"net/http"

	"github.com/hashicorp/go-delegate/timezone"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"
)

// DefaultPageSize is the maximum number of events ListEvents asks for.
const DefaultPageSize = 50

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

type gatewayOptions struct {
	withHTTPClient  *http.Client
	withLogger      hclog.Logger
	withPageSize    int
	withRateLimiter *rate.Limiter
	withResolver    *timezone.Resolver
}

func gatewayDefaults() gatewayOptions {
	return gatewayOptions{
		withLogger:   hclog.NewNullLogger(),
		withPageSize: DefaultPageSize,
		withResolver: timezone.Default,
	}
}

func getGatewayOpts(opt ...Option) gatewayOptions {
	opts := gatewayDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*gatewayOptions); ok && c != nil {
			o.withHTTPClient = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*gatewayOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithPageSize sets the maximum number of events returned by ListEvents.
func WithPageSize(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*gatewayOptions); ok {
			o.withPageSize = n
		}
	}
}

// WithRateLimiter paces outbound API calls. Waiting for the limiter honours the
// caller's context.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o interface{}) {
		if o, ok := o.(*gatewayOptions); ok {
			o.withRateLimiter = l
		}
	}
}

// WithResolver provides the resolver used for display zones. The default is
// timezone.Default.
func WithResolver(r *timezone.Resolver) Option {
	return func(o interface{}) {
		if o, ok := o.(*gatewayOptions); ok && r != nil {
			o.withResolver = r
		}
	}
}
