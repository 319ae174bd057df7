package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep fingerprints of different payload kinds apart.
const (
	DomainUniverse = "multiverse/universe/v1"
	DomainNode     = "multiverse/node/v1"
)

// Fingerprint returns the hex SHA-256 of domain, a 0x00 separator and the
// canonical encoding of v.
func Fingerprint(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", domain, err)
	}
	return Sum(domain, data), nil
}

// Sum hashes data that is already canonical.
func Sum(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
