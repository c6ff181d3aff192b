package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// DefaultSignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const DefaultSignatureHeader = "X-Webhook-Signature"

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of body under secret.
// It never panics: an empty header or a length mismatch is simply false.
func Verify(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := Sign(body, secret)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// Policy decides when a request must carry a valid signature.
type Policy struct {
	Header string
	// RequireSignature rejects requests for automations that have no secret
	// instead of letting them through unsigned.
	RequireSignature bool
}

// Check applies the policy for one request. perAutomation is the
// automation's own signature_required flag.
func (p Policy) Check(body []byte, signature, secret string, perAutomation bool) bool {
	if secret == "" {
		return !(p.RequireSignature || perAutomation)
	}
	return Verify(body, signature, secret)
}

// HeaderName returns the configured header, falling back to the default.
func (p Policy) HeaderName() string {
	if p.Header == "" {
		return DefaultSignatureHeader
	}
	return p.Header
}
