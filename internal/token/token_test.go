package token

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	a := Generate("jane@example.com", "secret-key")
	b := Generate("jane@example.com", "secret-key")
	assert.Equal(t, a, b, "same address and secret must yield the same token")
}

func TestGenerateVariesByInput(t *testing.T) {
	base := Generate("jane@example.com", "secret-key")
	assert.NotEqual(t, base, Generate("john@example.com", "secret-key"))
	assert.NotEqual(t, base, Generate("jane@example.com", "other-key"))
}

func TestGenerateURLSafe(t *testing.T) {
	tok := Generate("jane+tag@example.com", "secret-key")
	assert.False(t, strings.ContainsAny(tok, "+/="), "token must be URL-safe without padding, got %q", tok)

	// 32-byte SHA-256 digest, unpadded base64.
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestVerify(t *testing.T) {
	tok := Generate("jane@example.com", "secret-key")

	assert.True(t, Verify("jane@example.com", "secret-key", tok))
	assert.False(t, Verify("jane@example.com", "secret-key", tok+"x"))
	assert.False(t, Verify("john@example.com", "secret-key", tok))
	assert.False(t, Verify("jane@example.com", "wrong-key", tok))
	assert.False(t, Verify("jane@example.com", "secret-key", ""))
}

func TestRandom(t *testing.T) {
	a, err := Random(24)
	require.NoError(t, err)
	b, err := Random(24)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 24)
}

func TestRandomRejectsNonPositiveSize(t *testing.T) {
	_, err := Random(0)
	assert.Error(t, err)
	_, err = Random(-3)
	assert.Error(t, err)
}
