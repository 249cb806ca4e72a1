package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Verify checks that signatureHeader is the hex encoded HMAC-SHA256 digest of
// rawBody under secret. The body must be the exact bytes on the wire: decoding
// and re-encoding the JSON before verification will not round-trip.
//
// Verify never panics on malformed input; anything that is not a valid digest
// of the body simply fails verification.
func Verify(rawBody []byte, signatureHeader string, secret string) bool {
	if len(secret) == 0 || len(signatureHeader) == 0 {
		return false
	}
	provided, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)
	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
