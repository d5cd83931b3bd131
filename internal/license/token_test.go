package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSigner_IssueAndVerify(t *testing.T) {
	signer, err := NewTokenSigner([]byte("test-secret"))
	require.NoError(t, err)

	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	token := signer.Issue("SCL001-BR01-ABC-DEF0-12345678", expiry)
	require.NotEmpty(t, token)

	assert.True(t, signer.Verify("SCL001-BR01-ABC-DEF0-12345678", expiry, token))
}

func TestTokenSigner_Verify_Rejections(t *testing.T) {
	signer, err := NewTokenSigner([]byte("test-secret"))
	require.NoError(t, err)

	key := "SCL001-BR01-ABC-DEF0-12345678"
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	token := signer.Issue(key, expiry)

	t.Run("empty token", func(t *testing.T) {
		assert.False(t, signer.Verify(key, expiry, ""))
	})

	t.Run("mutated token", func(t *testing.T) {
		mutated := []byte(token)
		if mutated[0] == 'a' {
			mutated[0] = 'b'
		} else {
			mutated[0] = 'a'
		}
		assert.False(t, signer.Verify(key, expiry, string(mutated)))
	})

	t.Run("different key", func(t *testing.T) {
		assert.False(t, signer.Verify("SCL002-BR01-ABC-DEF0-12345678", expiry, token))
	})

	t.Run("different expiry", func(t *testing.T) {
		assert.False(t, signer.Verify(key, expiry.Add(time.Millisecond), token))
	})

	t.Run("different secret", func(t *testing.T) {
		other, err := NewTokenSigner([]byte("other-secret"))
		require.NoError(t, err)
		assert.False(t, other.Verify(key, expiry, token))
	})
}

func TestTokenSigner_RenewalInvalidatesOldToken(t *testing.T) {
	signer, err := NewTokenSigner([]byte("test-secret"))
	require.NoError(t, err)

	key := "SCL001-BR01-ABC-DEF0-12345678"
	oldExpiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	newExpiry := oldExpiry.AddDate(1, 0, 0)

	oldToken := signer.Issue(key, oldExpiry)
	newToken := signer.Issue(key, newExpiry)

	assert.NotEqual(t, oldToken, newToken)
	assert.False(t, signer.Verify(key, newExpiry, oldToken))
	assert.True(t, signer.Verify(key, newExpiry, newToken))
}

func TestNewTokenSigner_EmptySecret(t *testing.T) {
	_, err := NewTokenSigner([]byte{})
	assert.Error(t, err)
}
