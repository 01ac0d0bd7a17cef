package xfer

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash algorithm is selected purely by the hex length of the digest, per
// spec §3/§4.2: 40 hex chars (SHA-1) or 64 hex chars (SHA-3-256).
const (
	lenSHA1   = 40
	lenSHA3   = 64
)

// VerifyResult is the outcome of checking content against an announced hash.
type VerifyResult int

const (
	VerifyOK VerifyResult = iota
	VerifyMismatch
	VerifyUnknownAlgorithm
)

// IsHashLen reports whether n is a valid hash string length.
func IsHashLen(n int) bool {
	return n == lenSHA1 || n == lenSHA3
}

// isHexHash validates a token as a well-formed hash: correct length,
// lowercase hex. Used by the tokenizer to reject malformed cards early.
func isHexHash(s string) bool {
	if !IsHashLen(len(s)) {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// SHA1Hex returns the lowercase hex SHA-1 digest of x.
func SHA1Hex(x []byte) string {
	sum := sha1.Sum(x)
	return hex.EncodeToString(sum[:])
}

// SHA3Hex returns the lowercase hex SHA-3-256 digest of x.
func SHA3Hex(x []byte) string {
	sum := sha3.Sum256(x)
	return hex.EncodeToString(sum[:])
}

// Digest computes the hash of content using the algorithm implied by the
// length of want, so callers never need to carry the algorithm choice
// separately from the hash they are checking against.
func Digest(content []byte, want string) (string, VerifyResult) {
	switch len(want) {
	case lenSHA1:
		return SHA1Hex(content), VerifyOK
	case lenSHA3:
		return SHA3Hex(content), VerifyOK
	default:
		return "", VerifyUnknownAlgorithm
	}
}

// Verify checks content against an announced hash, dispatching on the
// hash's length (§4.2).
func Verify(content []byte, hash string) VerifyResult {
	got, res := Digest(content, hash)
	if res == VerifyUnknownAlgorithm {
		return res
	}
	if ConstantTimeEq(got, hash) {
		return VerifyOK
	}
	return VerifyMismatch
}

// ConstantTimeEq compares two hash strings without early exit, so that
// login-signature verification timing does not depend on where the
// first mismatching byte falls (§4.2, property P7).
func ConstantTimeEq(a, b string) bool {
	if len(a) != len(b) {
		// Still do a constant-time compare (of a against itself) so the
		// false path performs a compare too; equality is already false,
		// and its timing does not depend on the contents of b.
		_ = subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// LoginSignature recomputes the expected login signature:
// sha1(nonce || sharedSecret).
func LoginSignature(nonce, sharedSecret string) string {
	return SHA1Hex([]byte(nonce + sharedSecret))
}

// SharedSecretLegacy derives the SHA-1-based shared-secret form tried as
// a fallback for legacy clients whose stored password encoding predates
// the current one (§4.2).
func SharedSecretLegacy(password string) string {
	return SHA1Hex([]byte(password))
}
