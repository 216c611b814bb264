// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "encoding/json"

// Secret strings redact themselves when printed with the fmt verbs or
// marshaled to JSON. Convert them to string to read the value.
type (
	// AccessToken is an oauth access_token.
	AccessToken string

	// RefreshToken is an oauth refresh_token.
	RefreshToken string

	// IDToken is an oidc id_token.
	// See https://openid.net/specs/openid-connect-core-1_0.html#IDToken.
	IDToken string

	// ClientSecret is an oauth client secret.
	ClientSecret string
)

// The redacted forms of the secret types.
const (
	RedactedAccessToken  = "[REDACTED: access_token]"
	RedactedRefreshToken = "[REDACTED: refresh_token]"
	RedactedIDToken      = "[REDACTED: id_token]"
	RedactedClientSecret = "[REDACTED: client secret]"
)

func (AccessToken) String() string  { return RedactedAccessToken }
func (RefreshToken) String() string { return RedactedRefreshToken }
func (IDToken) String() string      { return RedactedIDToken }
func (ClientSecret) String() string { return RedactedClientSecret }

func (AccessToken) MarshalJSON() ([]byte, error)  { return json.Marshal(RedactedAccessToken) }
func (RefreshToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedRefreshToken) }
func (IDToken) MarshalJSON() ([]byte, error)      { return json.Marshal(RedactedIDToken) }
func (ClientSecret) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedClientSecret) }
