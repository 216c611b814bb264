// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package account stores signed-in principals and the delegated token material
// the broker keeps fresh for them.
package account

import (
	"context"
	"time"

	"github.com/hashicorp/go-delegate/oidc"
)

// Store is keyed storage for signed-in accounts. Implementations must be safe
// for concurrent use, and concurrent operations on different keys must not
// block each other.
type Store interface {
	// Put stores the account, overwriting any account with the same key. On
	// success the account's Version, CreatedAt and UpdatedAt reflect what was
	// stored.
	Put(ctx context.Context, a *Account) error

	// Get returns a copy of the account. It returns ErrNotFound when there's
	// no live account for the key.
	Get(ctx context.Context, key string) (*Account, error)

	// Remove deletes the account. Removing a missing account is not an error.
	Remove(ctx context.Context, key string) error

	// UpdateCredential replaces the account's credential if the stored account
	// is still at the version provided, and returns a copy of the updated
	// account. Otherwise it returns ErrVersionConflict.
	UpdateCredential(ctx context.Context, key string, version uint64, c *Credential) (*Account, error)
}

// Account is a signed-in principal.
type Account struct {
	// Key is opaque and stable for the principal.
	Key string

	DisplayName string
	Email       string

	// TimeZone is the provider-native time zone name of the principal's
	// mailbox, if known.
	TimeZone string

	Credential *Credential

	// Version changes with every write and is never reused for the key.
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Credential = a.Credential.Clone()
	return &cp
}

// Credential is the delegated token material for an account.
type Credential struct {
	AccessToken  oidc.AccessToken
	Expiry       time.Time
	RefreshToken oidc.RefreshToken
	IDToken      oidc.IDToken
	Scopes       []string
}

// NewCredential copies the token material from t.
func NewCredential(t oidc.Token) *Credential {
	if t == nil {
		return nil
	}
	return &Credential{
		AccessToken:  t.AccessToken(),
		Expiry:       t.Expiry(),
		RefreshToken: t.RefreshToken(),
		IDToken:      t.IDToken(),
		Scopes:       t.Scopes(),
	}
}

// Clone returns a deep copy of the credential.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Scopes != nil {
		cp.Scopes = append([]string(nil), c.Scopes...)
	}
	return &cp
}

// UsableAt reports whether the access token can be handed out at now, which
// requires that it won't expire within skew. A token with an unknown expiry is
// never usable.
func (c *Credential) UsableAt(now time.Time, skew time.Duration) bool {
	if c == nil || c.AccessToken == "" || c.Expiry.IsZero() {
		return false
	}
	return now.Before(c.Expiry.Add(-skew))
}
