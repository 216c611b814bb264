// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// delegate provides a collection of related packages which let an application
// sign a user in with an OIDC provider and then call a calendar API on the
// user's behalf.
//
//   - oidc: provider discovery, the authorization code flow with PKCE, token
//     refresh and revocation.
//   - account: the account store keyed by a stable principal key.
//   - broker: hands out fresh access tokens, refreshing them when needed.
//   - signin: the per-session sign-in state machine and its callback handler.
//   - gateway: the calendar API client.
//   - timezone: maps provider-native time zone names to IANA locations.
//   - config: environment based configuration.
//
// See examples/calendar for an application wiring them together.
package delegate
