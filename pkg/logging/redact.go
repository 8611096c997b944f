// Package logging configures the process-wide zerolog logger and provides
// redaction helpers for credential-adjacent values. Key material, assertions
// and bearer tokens must never be logged directly; log their Fingerprint
// instead so related lines can still be correlated.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
)

// Redacted is the placeholder emitted in place of secret values.
const Redacted = "[redacted]"

// Fingerprint returns a short hex digest of a secret. The digest identifies
// the value across log lines without revealing it. Empty input yields an
// empty fingerprint so absent credentials remain visibly absent.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}
