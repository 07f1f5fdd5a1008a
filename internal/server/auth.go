// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingAuthHeader = errors.New("missing Authorization header")
	errMalformedAuth     = errors.New("malformed Authorization header")
	errInvalidToken      = errors.New("invalid token")
)

// parseAuthorization extracts the bearer token from the Authorization header.
func parseAuthorization(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingAuthHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMalformedAuth
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMalformedAuth
	}
	return token, nil
}

// checkToken compares the presented token against the configured one in
// constant time.
func checkToken(presented, configured string) error {
	if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
		return errInvalidToken
	}
	return nil
}

// principalForToken derives a stable, non-reversible identifier for logging.
func principalForToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:8])
}
