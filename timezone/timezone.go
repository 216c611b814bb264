// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package timezone maps provider-native (Windows) time zone names to IANA zone
// IDs.
package timezone

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Resolver maps native zone names to IANA zone IDs using a static table. It's
// safe for concurrent use.
type Resolver struct {
	table map[string][]string
	names []string

	locations sync.Map // map[string]*time.Location
}

// Default resolves Windows zone names with the CLDR windowsZones table.
var Default = mustResolver(windowsZones)

// NewResolver creates a Resolver for the table, which maps a native name to its
// candidate IANA IDs in canonical order. Every name needs at least one
// candidate.
func NewResolver(table map[string][]string) (*Resolver, error) {
	const op = "timezone.NewResolver"
	if len(table) == 0 {
		return nil, fmt.Errorf("%s: table is empty: %w", op, ErrInvalidParameter)
	}
	r := &Resolver{
		table: make(map[string][]string, len(table)),
		names: make([]string, 0, len(table)),
	}
	for native, candidates := range table {
		if strings.TrimSpace(native) == "" {
			return nil, fmt.Errorf("%s: native name is empty: %w", op, ErrInvalidParameter)
		}
		if len(candidates) == 0 || candidates[0] == "" {
			return nil, fmt.Errorf("%s: %q has no candidates: %w", op, native, ErrInvalidParameter)
		}
		r.table[native] = append([]string(nil), candidates...)
		r.names = append(r.names, native)
	}
	sort.Strings(r.names)
	return r, nil
}

func mustResolver(table map[string][]string) *Resolver {
	r, err := NewResolver(table)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the first candidate IANA ID for the native name. Unknown
// names fail with ErrUnknownTimeZone.
func (r *Resolver) Resolve(native string) (string, error) {
	const op = "Resolver.Resolve"
	candidates, ok := r.table[strings.TrimSpace(native)]
	if !ok {
		return "", fmt.Errorf("%s: %q: %w", op, native, ErrUnknownTimeZone)
	}
	return candidates[0], nil
}

// Candidates returns every IANA ID for the native name in canonical order.
func (r *Resolver) Candidates(native string) ([]string, error) {
	const op = "Resolver.Candidates"
	candidates, ok := r.table[strings.TrimSpace(native)]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, native, ErrUnknownTimeZone)
	}
	return append([]string(nil), candidates...), nil
}

// Location resolves the native name and loads its location.
func (r *Resolver) Location(native string) (*time.Location, error) {
	const op = "Resolver.Location"
	id, err := r.Resolve(native)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if loc, ok := r.locations.Load(id); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w: %w", op, id, ErrLocationUnavailable, err)
	}
	r.locations.Store(id, loc)
	return loc, nil
}

// Names returns the sorted native names the resolver knows.
func (r *Resolver) Names() []string {
	return append([]string(nil), r.names...)
}

// Resolve returns the IANA ID for the Windows zone name using the Default
// resolver.
func Resolve(native string) (string, error) {
	return Default.Resolve(native)
}

// Location loads the location for the Windows zone name using the Default
// resolver.
func Location(native string) (*time.Location, error) {
	return Default.Location(native)
}

// Names returns the Windows zone names the Default resolver knows.
func Names() []string {
	return Default.Names()
}
