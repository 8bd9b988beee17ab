package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint computes a stable hash for a finding key
func Fingerprint(ruleID, file string, start, end int, evidence string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", ruleID, file, start, end, strings.TrimSpace(evidence))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash identifies source text independent of its path.
func ContentHash(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
