package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// computeSignature returns the hex HMAC-SHA256 of payload under secret.
func computeSignature(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a webhook signature in constant time. The header
// value may carry an optional "sha256=" prefix.
func verifySignature(secret []byte, payload []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	want := computeSignature(secret, payload)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
