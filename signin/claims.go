// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package signin

// idTokenClaims are the id_token claims used to identify and describe the
// signed-in principal.
type idTokenClaims struct {
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// accountKey is "<oid>.<tid>" when the provider issues both claims, which is
// stable for the principal across the provider's clients. Otherwise it's the
// subject.
func (c *idTokenClaims) accountKey() string {
	if c.ObjectID != "" && c.TenantID != "" {
		return c.ObjectID + "." + c.TenantID
	}
	return c.Subject
}

func (c *idTokenClaims) email() string {
	if c.Email != "" {
		return c.Email
	}
	return c.PreferredUsername
}
