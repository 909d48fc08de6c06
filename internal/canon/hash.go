package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// leaves room for a future algorithm migration.
const (
	DomainBinding = "ordinal/binding/v1"
	DomainFact    = "ordinal/fact/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as a hex string.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BindingKey computes the identity hash of a variable-to-fact-id
// assignment. Two bindings have equal keys iff they map every variable
// to the same fact id.
func BindingKey(vars map[string]int64) (string, error) {
	canonical, err := Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("binding key: %w", err)
	}
	return HashWithDomain(DomainBinding, canonical), nil
}

// MustBindingKey is like BindingKey but panics on error. Binding
// payloads are maps of string to int64, which always canonicalize, so
// a panic indicates a programming error.
func MustBindingKey(vars map[string]int64) string {
	key, err := BindingKey(vars)
	if err != nil {
		panic(err)
	}
	return key
}
