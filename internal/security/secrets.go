package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum length of a trigger secret.
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy, in bits per character.
	MinEntropy = 3.5

	generatedSecretBytes = 36
)

var placeholderSecrets = map[string]bool{
	"replace-with-secret":                   true,
	"github-webhook-password":               true,
	"your-webhook-secret-min-32-chars-long": true,
	"min-32-char-webhook-secret":            true,
	"topsecret":                             true,
	"secret":                                true,
	"password":                              true,
	"changeme":                              true,
}

var placeholderFragments = []string{"replace", "changeme", "topsecret", "password", "example"}

// ValidateSecret rejects trigger secrets that are short, look like
// placeholders, or have too little entropy.
func ValidateSecret(secret string) error {
	lower := strings.ToLower(secret)
	if placeholderSecrets[lower] {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}

	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("secret appears to be a placeholder value (contains %q)", fragment)
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret returns a random 48 character URL-safe secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// calculateEntropy computes the Shannon entropy of s in bits per character.
func calculateEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, c := range s {
		freq[c]++
		total++
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
