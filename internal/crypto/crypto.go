// Package crypto wraps the primitives Hydrogen is allowed to use (spec.md
// Non-goals: no new cryptographic primitives — SHA-256 and HMAC-SHA-256 are
// consumed, not implemented) behind the exact encodings the rest of the
// system needs: base64url without padding, constant-time comparison, and a
// CSRNG that fails closed.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Base64 returns the standard-base64 (with padding) encoding of the
// SHA-256 digest of data. This is the password-hash encoding of spec.md §4.6
// ("base64_standard(SHA256(...))") — deliberately NOT base64url, to match
// the documented format exactly.
func SHA256Base64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HMACSHA256 returns the HMAC-SHA256 of message under key.
func HMACSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// Base64URLEncode encodes data as unpadded base64url, per spec.md §4.7:
// "strips padding on output".
func Base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Base64URLDecode decodes unpadded-or-padded base64url. It accepts input
// with or without trailing '=' but rejects standard-alphabet '+'/'/' per
// spec.md §4.7 ("rejects +//").
func Base64URLDecode(s string) ([]byte, error) {
	if strings.ContainsAny(s, "+/") {
		return nil, fmt.Errorf("crypto: base64url input contains standard-alphabet characters")
	}
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// ConstantTimeEqual reports whether a and b are byte-identical, comparing in
// time independent of the position of the first mismatch for equal-length
// inputs (spec.md §8 property 6).
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualString is the string convenience form of ConstantTimeEqual.
func ConstantTimeEqualString(a, b string) bool {
	return ConstantTimeEqual([]byte(a), []byte(b))
}

// RandomBytes returns n cryptographically secure random bytes. It fails
// closed: on any error from the OS CSRNG it returns an error rather than
// falling back to a weaker source (spec.md §4.7).
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto: CSRNG read failed: %w", err)
	}
	return buf, nil
}

// PasswordHash computes base64_standard(SHA256(utf8(accountID) || utf8(password))),
// the salted-by-account-id password hash of spec.md §4.6. See DESIGN.md Open
// Question 1 — this salting scheme is preserved as-is, not strengthened.
func PasswordHash(accountID string, password string) string {
	return SHA256Base64([]byte(accountID + password))
}

// TokenHash returns the base64-standard SHA-256 hash of a full JWT string,
// used as the revocation-store key (spec.md §3 "Revocation record").
func TokenHash(jwt string) string {
	return SHA256Base64([]byte(jwt))
}
