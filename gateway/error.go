// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrAuthExpired means the account has to sign in again before the API
	// can be called on its behalf. Errors matching it also match
	// broker.ErrReauthRequired.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrUpstream is matched by every *UpstreamError.
	ErrUpstream = errors.New("upstream api error")

	// ErrInvalidEventRequest is matched by every *InvalidEventRequestError.
	ErrInvalidEventRequest = errors.New("invalid event request")

	ErrMalformedResponse = errors.New("malformed api response")
)

// UpstreamError is returned when the API answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream, e.StatusCode, e.Body)
}

// Is matches ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Violation is a single reason an EventRequest was rejected.
type Violation struct {
	Field  string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// InvalidEventRequestError lists every violation found in an EventRequest.
type InvalidEventRequestError struct {
	errs *multierror.Error
}

func (e *InvalidEventRequestError) Error() string {
	parts := make([]string, 0, len(e.errs.Errors))
	for _, v := range e.errs.Errors {
		parts = append(parts, v.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidEventRequest, strings.Join(parts, "; "))
}

// Is matches ErrInvalidEventRequest.
func (e *InvalidEventRequestError) Is(target error) bool {
	return target == ErrInvalidEventRequest
}

// Unwrap returns the individual violations.
func (e *InvalidEventRequestError) Unwrap() []error {
	return append([]error(nil), e.errs.Errors...)
}

// Violations returns the individual violations in the order they were found.
func (e *InvalidEventRequestError) Violations() []*Violation {
	vs := make([]*Violation, 0, len(e.errs.Errors))
	for _, err := range e.errs.Errors {
		var v *Violation
		if errors.As(err, &v) {
			vs = append(vs, v)
		}
	}
	return vs
}

// Fields returns the distinct names of the fields that failed validation.
func (e *InvalidEventRequestError) Fields() []string {
	var fields []string
	seen := map[string]bool{}
	for _, v := range e.Violations() {
		if !seen[v.Field] {
			seen[v.Field] = true
			fields = append(fields, v.Field)
		}
	}
	return fields
}
