package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	SignaturePrefix = "sha256="
)

// Sign returns the X-Hub-Signature-256 value of payload for secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" HMAC of payload in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	digest, ok := strings.CutPrefix(signature, SignaturePrefix)
	if !ok || digest == "" || secret == "" {
		return false
	}

	received, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), received)
}
