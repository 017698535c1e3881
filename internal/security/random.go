package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateRandomString returns a hex string built from n random bytes.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("generate random string: invalid length %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
