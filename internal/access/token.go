// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned for malformed, unknown or mismatched tokens.
var ErrInvalidToken = errors.New("invalid token")

// Tokens have the form "<user>.<secret>"; only a bcrypt hash of the secret is
// stored in configuration.
const tokenSeparator = "."

// GenerateToken creates a random secret for userID and returns the full
// token together with the hash to store.
func GenerateToken(userID string) (token, hash string, err error) {
	if userID == "" || strings.Contains(userID, tokenSeparator) {
		return "", "", fmt.Errorf("user id %q cannot carry a token", userID)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	hash, err = HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return userID + tokenSeparator + secret, hash, nil
}

// HashSecret returns the bcrypt hash of secret.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// Authenticate resolves a bearer token to a user id.
func (a *Authorizer) Authenticate(token string) (string, error) {
	userID, secret, ok := strings.Cut(token, tokenSeparator)
	if !ok || userID == "" || secret == "" {
		return "", ErrInvalidToken
	}
	hash, ok := a.TokenHash(userID)
	if !ok {
		return "", ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", ErrInvalidToken
	}
	return userID, nil
}
