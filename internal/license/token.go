package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TokenSigner produces and checks offline authorization tokens. A token
// is an HMAC-SHA256 over the exact (license key, expiry) pair, so any
// renewal invalidates prior tokens by construction: changing the expiry
// changes the HMAC input. The secret is process-wide configuration
// loaded once at startup; rotating it invalidates all outstanding
// tokens, which is an accepted operational cost.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner creates a signer using the given process-wide secret.
func NewTokenSigner(secret []byte) (*TokenSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signer secret is required")
	}
	return &TokenSigner{secret: secret}, nil
}

// Issue computes the offline token for a license key and expiry instant.
func (s *TokenSigner) Issue(licenseKey string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", licenseKey, expiresAt.UnixMilli())
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected token and compares in constant time.
func (s *TokenSigner) Verify(licenseKey string, expiresAt time.Time, candidate string) bool {
	if candidate == "" {
		return false
	}
	expected := s.Issue(licenseKey, expiresAt)
	return hmac.Equal([]byte(expected), []byte(candidate))
}
