package server

import (
	"testing"
)

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"build_tag":"jenkins-nodeapp-1","ref":"refs/heads/master"}`)
	signature := Sign(payload, testSecret)

	if !VerifySignature(payload, signature, testSecret) {
		t.Error("Expected valid signature to be accepted")
	}
}

func TestVerifySignature_Invalid(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/master"}`)
	signature := Sign(payload, "wrong-secret-at-least-32-chars-long-x")

	if VerifySignature(payload, signature, testSecret) {
		t.Error("Expected invalid signature to be rejected")
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	signature := Sign([]byte(`{"ref":"refs/heads/master"}`), testSecret)

	if VerifySignature([]byte(`{"ref":"refs/heads/evil"}`), signature, testSecret) {
		t.Error("Expected signature of another payload to be rejected")
	}
}

func TestVerifySignature_MissingSecret(t *testing.T) {
	payload := []byte(`{}`)

	if VerifySignature(payload, Sign(payload, ""), "") {
		t.Error("Expected empty secret to reject every signature")
	}
}

func TestVerifySignature_Malformed(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/master"}`)

	testCases := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"no prefix", "abc123def456"},
		{"wrong prefix", "sha1=abc123def456"},
		{"no equals", "sha256abc123def456"},
		{"empty after prefix", "sha256="},
		{"not hex", "sha256=zzzz"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifySignature(payload, tc.signature, testSecret) {
				t.Errorf("Expected malformed signature '%s' to be rejected", tc.signature)
			}
		})
	}
}
