package manager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// slugify lowers the name and collapses every run of characters outside
// [a-z0-9] into a single dash. The result is a valid DNS label fragment,
// possibly empty.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true // swallow leading dashes
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// suffixRand feeds randomSuffix. Tests swap it to force collisions.
var suffixRand io.Reader = rand.Reader

// randomSuffix returns 6 hex characters of cryptographic randomness.
func randomSuffix() (string, error) {
	buf := make([]byte, 3)
	if _, err := io.ReadFull(suffixRand, buf); err != nil {
		return "", fmt.Errorf("failed to generate subdomain suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
