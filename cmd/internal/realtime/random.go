package realtime

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// RandomToken returns n random bytes (16 when n <= 0) as lowercase base32.
// The alphabet is safe in ids, queue names and SQL identifiers.
func RandomToken(n int) string {
	if n <= 0 {
		n = 16
	}
	b := make([]byte, n)
	_, _ = rand.Read(b) // never fails on supported platforms
	return strings.ToLower(tokenEncoding.EncodeToString(b))
}
