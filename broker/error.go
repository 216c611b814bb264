// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNoSuchAccount means there's no signed-in account for the key.
	ErrNoSuchAccount = errors.New("no such account")

	// ErrReauthRequired means the account's refresh material is missing or
	// was rejected by the provider. The user has to sign in again; retrying
	// won't help.
	ErrReauthRequired = errors.New("reauthentication required")

	// ErrTokenServiceUnavailable means the provider couldn't be reached or
	// failed to answer. The caller may retry later.
	ErrTokenServiceUnavailable = errors.New("token service unavailable")

	ErrCodeExchange     = errors.New("authorization code exchange failed")
	ErrRevocationFailed = errors.New("refresh token revocation failed")
)
