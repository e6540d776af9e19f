package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for range 100 {
		token, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		require.Len(t, token, 43)
		require.NotContains(t, seen, token)
		seen[token] = struct{}{}
	}

	short, err := GenerateToken(TokenSize128)
	require.NoError(t, err)
	require.Len(t, short, 22)
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestFingerprintToken(t *testing.T) {
	a := FingerprintToken("token-a")
	require.Equal(t, a, FingerprintToken("token-a"))
	require.NotEqual(t, a, FingerprintToken("token-b"))
	require.Len(t, a, 43)
}

func TestTokensEqual(t *testing.T) {
	require.True(t, TokensEqual("abc", "abc"))
	require.False(t, TokensEqual("abc", "abd"))
	require.False(t, TokensEqual("abc", "abcd"))
	require.False(t, TokensEqual("", ""))
	require.False(t, TokensEqual("abc", ""))
	require.False(t, TokensEqual("", "abc"))
}
