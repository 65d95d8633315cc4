// Package canonical produces the canonical JSON form (RFC 8785: sorted keys,
// "," and ":" separators, no extraneous whitespace) used as the pre-image
// for every hash and signature in the platform. Changing this encoding is a
// wire-format change that breaks hash compatibility with stored artifacts.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
)

// JSON marshals v and transforms the result into canonical form.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform: %w", err)
	}
	return out, nil
}

// Shake256Hex returns size bytes of SHAKE-256 output over data, hex encoded.
func Shake256Hex(data []byte, size int) string {
	out := make([]byte, size)
	sha3.ShakeSum256(out, data)
	return hex.EncodeToString(out)
}

// SHA256Hex returns the hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonicalizes v and returns size bytes of SHAKE-256, hex encoded.
func HashJSON(v any, size int) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return Shake256Hex(b, size), nil
}

// HashIdentifier hashes a principal identifier (email or mobile) the way
// artifact lookups expect: 32 bytes of SHAKE-256, hex encoded.
func HashIdentifier(id string) string {
	return Shake256Hex([]byte(id), 32)
}
