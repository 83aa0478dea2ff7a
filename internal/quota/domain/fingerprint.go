package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var featureKeyPattern = regexp.MustCompile(`^[a-z0-9_.]+$`)

func ValidFeatureKey(key string) bool {
	return featureKeyPattern.MatchString(key)
}

// Fingerprint identifies the logical request behind a request_id. A retry
// carries the same fingerprint; a reused request_id with a different body does not.
func Fingerprint(req ValidateRequest) string {
	parts := []string{
		strings.TrimSpace(req.Endpoint),
		strings.ToUpper(strings.TrimSpace(req.Method)),
		strings.TrimSpace(req.PayloadHash),
		strings.TrimSpace(req.FeatureKey),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
