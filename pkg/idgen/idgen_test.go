package idgen

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureID(t *testing.T) {
	id, err := GenerateSecureID("sk", 24)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "sk_"))
	body := strings.TrimPrefix(id, "sk_")
	assert.Len(t, body, 24)
	for _, r := range body {
		assert.Contains(t, charset, string(r))
	}

	bare, err := GenerateSecureID("", 10)
	require.NoError(t, err)
	assert.Len(t, bare, 10)
	assert.NotEqual(t, bare[:10], body[:10])
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken(32)
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
