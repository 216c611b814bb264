// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package id generates random, url-safe identifiers suitable for oidc state
// and nonce values, session ids and other values that must not be guessable.
package id

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// DefaultLength is the number of base62 characters in a generated id. At 62
// symbols per character that is a little over 119 bits of randomness.
const DefaultLength = 20

const base62Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ErrInvalidLength is returned when a requested id length is not positive.
var ErrInvalidLength = errors.New("invalid id length")

// New generates an id of DefaultLength with an optional prefix. When a prefix
// is given the id is formatted as "<prefix>_<random>".
func New(optionalPrefix string) (string, error) {
	return NewWithLength(optionalPrefix, DefaultLength)
}

// NewWithLength generates an id of length random characters with an optional
// prefix.
func NewWithLength(optionalPrefix string, length int) (string, error) {
	const op = "id.NewWithLength"
	if length <= 0 {
		return "", fmt.Errorf("%s: length %d: %w", op, length, ErrInvalidLength)
	}
	id, err := random(length)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// random returns length characters from base62Charset. Bytes >= 248 are
// rejected so every character is equally likely.
func random(length int) (string, error) {
	const maxUnbiased = 256 - (256 % len(base62Charset))
	out := make([]byte, 0, length)
	for len(out) < length {
		buf, err := uuid.GenerateRandomBytes(length)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, base62Charset[int(b)%len(base62Charset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
