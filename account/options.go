// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package account

import (
	"time"

	"github.com/jonboulle/clockwork"
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

type storeOptions struct {
	withTTL   time.Duration
	withClock clockwork.Clock
}

func storeDefaults() storeOptions {
	return storeOptions{
		withClock: clockwork.NewRealClock(),
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTTL provides an optional lifetime for accounts, measured from their last
// Put. A zero TTL means accounts never expire. Valid for: NewMemStore
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withTTL = ttl
		}
	}
}

// WithClock provides an optional clock for expiring accounts and stamping
// them. Valid for: NewMemStore
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && clock != nil {
			o.withClock = clock
		}
	}
}
