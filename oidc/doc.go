// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is the relying party side of an OIDC provider integration, used
to sign a user in and to keep the delegated token material fresh.

Primary types provided by the package:

  - Request: represents one OIDC authentication flow for a user. It contains
    the data needed to uniquely represent that one-time flow across the multiple
    interactions needed to complete the OIDC flow the user is attempting. All
    Requests contain an expiration for the user's OIDC flow, and may carry a
    PKCE CodeVerifier.

  - Token: represents an OIDC id_token, as well as an Oauth2 access_token and
    refresh_token (including the access_token expiry).

  - Config: provides the configuration for a typical 3-legged OIDC
    authorization code flow (for example: client ID/Secret, redirectURL,
    supported signing algorithms, additional scopes requested, etc).

  - Provider: provides integration with a provider. The provider provides
    capabilities like: generating an auth URL, exchanging codes for tokens,
    refreshing and revoking refresh_tokens, verifying tokens and making user
    info requests.

  - TestProvider: a local TLS provider for writing tests.

AccessToken, RefreshToken, IDToken and ClientSecret are string types which
redact themselves when printed or marshaled to JSON.
*/
package oidc
