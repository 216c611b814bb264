// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package timezone

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnknownTimeZone means the native zone name isn't in the table.
	ErrUnknownTimeZone = errors.New("unknown time zone")

	// ErrLocationUnavailable means the zone resolved, but the local time zone
	// database doesn't have it.
	ErrLocationUnavailable = errors.New("time zone location unavailable")
)
