// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package signin

// Phase is where a session is in the sign-in handshake.
type Phase int

const (
	Anonymous Phase = iota
	AwaitingCallback
	SignedIn
)

func (p Phase) String() string {
	switch p {
	case Anonymous:
		return "anonymous"
	case AwaitingCallback:
		return "awaiting_callback"
	case SignedIn:
		return "signed_in"
	default:
		return "unknown"
	}
}
