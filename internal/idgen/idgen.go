// Package idgen mints record identifiers like dec_f3a91c... and esc_0b44d2...
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 hex characters drawn from
// crypto/rand. A read failure there means the process has no entropy
// source, so panicking is the only honest option.
func WithPrefix(prefix string) string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("idgen: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
