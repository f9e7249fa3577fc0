// Package token derives the opaque tokens embedded in campaign mail: the
// deterministic unsubscribe token tied to a recipient address and the random
// identifiers used for record keys and correlation ids.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Generate derives the unsubscribe token for an email address: HMAC-SHA256
// over the address keyed with the configured secret, URL-safe base64 without
// padding. The same address and secret always produce the same token, so
// links remain verifiable without storing anything per recipient.
func Generate(email, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(email))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Verify reports whether candidate is the token for email under secret.
// Comparison is constant time.
func Verify(email, secret, candidate string) bool {
	expected := Generate(email, secret)
	return hmac.Equal([]byte(expected), []byte(candidate))
}

// Random returns size cryptographically random bytes encoded URL-safe
// base64 without padding. Used for recipient record keys and correlation
// ids; never for unsubscribe verification, which must stay deterministic.
func Random(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
