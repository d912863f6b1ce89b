package cardgen

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HashPANHMAC keys the settlement ledger by card without storing the PAN itself.
// Callers must never log the input.
func HashPANHMAC(pan string, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(NormalizePAN(pan)))
	return mac.Sum(nil)
}
