// Package license implements the license lifecycle engine: key
// generation, offline token signing, online and offline verification,
// and the administrative lifecycle operations.
package license

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// keyHashLen is the number of hex characters of the embedded
	// verification hash appended to a license key.
	keyHashLen = 8
	// keyRandomBytes is the number of random bytes mixed into a key.
	keyRandomBytes = 4
	// keyGroups is the number of dash-delimited groups in a license key.
	keyGroups = 5
)

var (
	// ErrEmptyCode indicates a missing school or branch code.
	ErrEmptyCode = errors.New("school and branch codes are required")
	// ErrInvalidKeyFormat indicates the license key does not have the
	// expected dash-delimited shape.
	ErrInvalidKeyFormat = errors.New("invalid license key format")
)

// keyPattern matches the structural shape of a license key: five
// uppercase alphanumeric groups separated by dashes.
var keyPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+-[A-Z0-9]+-[A-Z0-9]+-[A-Z0-9]+$`)

// Generator derives opaque, verifiable license keys from school and
// branch identity plus a timestamp and cryptographic randomness.
type Generator struct {
	secret []byte
	now    func() time.Time
}

// NewGenerator creates a key generator using the given process-wide secret.
func NewGenerator(secret []byte) (*Generator, error) {
	if len(secret) == 0 {
		return nil, errors.New("key generator secret is required")
	}
	return &Generator{secret: secret, now: time.Now}, nil
}

// GenerateKey produces a new license key of the form
// SCHOOL-BRANCH-TIMESTAMP-RANDOM-HASH, uppercased for human
// transcription. The final group is an HMAC over the preceding groups,
// truncated, so a key's structural validity can be checked without a
// store lookup. Format validity is necessary but never sufficient: the
// store lookup stays authoritative.
func (g *Generator) GenerateKey(schoolCode, branchCode string) (string, error) {
	schoolCode = strings.ToUpper(strings.TrimSpace(schoolCode))
	branchCode = strings.ToUpper(strings.TrimSpace(branchCode))
	if schoolCode == "" || branchCode == "" {
		return "", ErrEmptyCode
	}

	timestamp := strconv.FormatInt(g.now().UnixMilli(), 36)

	random := make([]byte, keyRandomBytes)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	payload := fmt.Sprintf("%s-%s-%s-%s", schoolCode, branchCode, timestamp, hex.EncodeToString(random))
	payload = strings.ToUpper(payload)

	return payload + "-" + g.keyHash(payload), nil
}

// ValidateKeyFormat checks only the structural shape of a key: group
// count and character class. It does not verify the embedded hash.
func ValidateKeyFormat(key string) bool {
	if strings.Count(key, "-") != keyGroups-1 {
		return false
	}
	return keyPattern.MatchString(key)
}

// VerifyKeyHash recomputes the embedded verification hash of a key and
// compares it in constant time. A passing check proves the key was
// produced by a holder of the secret, not that a license record exists.
func (g *Generator) VerifyKeyHash(key string) bool {
	if !ValidateKeyFormat(key) {
		return false
	}
	idx := strings.LastIndex(key, "-")
	payload, candidate := key[:idx], key[idx+1:]
	return hmac.Equal([]byte(g.keyHash(payload)), []byte(candidate))
}

// keyHash computes the truncated, uppercased HMAC-SHA256 hex digest of
// a key payload.
func (g *Generator) keyHash(payload string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(payload))
	digest := hex.EncodeToString(mac.Sum(nil))
	return strings.ToUpper(digest[:keyHashLen])
}
