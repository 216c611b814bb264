// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package signin

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrStateMismatch means the callback's state doesn't belong to a pending
	// sign-in for the session: it's missing, different, expired or already
	// used.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrCodeExchangeFailed means the provider rejected the sign-in, either in
	// its callback or when redeeming the authorization code.
	ErrCodeExchangeFailed = errors.New("code exchange failed")

	ErrMissingSubject = errors.New("id_token has no subject")

	ErrUnknownSession = errors.New("unknown session")
)
