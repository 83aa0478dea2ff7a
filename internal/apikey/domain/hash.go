package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	LivePrefix = "cbx_live_"
	TestPrefix = "cbx_test_"

	// displayPrefixLen covers the kind prefix plus a few secret characters.
	displayPrefixLen = 16
)

// HashAPIKey returns the hex HMAC-SHA256 of the raw key under secret.
func HashAPIKey(secret, raw string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseKind reports whether raw carries a known prefix and whether it is a test key.
func ParseKind(raw string) (isTest bool, ok bool) {
	switch {
	case strings.HasPrefix(raw, LivePrefix) && len(raw) > len(LivePrefix):
		return false, true
	case strings.HasPrefix(raw, TestPrefix) && len(raw) > len(TestPrefix):
		return true, true
	default:
		return false, false
	}
}

func DisplayPrefix(raw string) string {
	if len(raw) <= displayPrefixLen {
		return raw
	}
	return raw[:displayPrefixLen]
}
