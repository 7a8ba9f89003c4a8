// Package token issues unguessable signature tokens and unique, prefixed
// human-shareable codes.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// signatureTokenBytes is the entropy behind a signature token (hex doubles it on the wire)
	signatureTokenBytes = 32
	// codeSuffixBytes is the entropy behind the suffix of a prefixed code
	codeSuffixBytes = 8
	// maxMintAttempts bounds the retry-until-unique loop; exceeding it means
	// the namespace is exhausted or the collision check is broken
	maxMintAttempts = 10
)

// NewSignatureToken returns a URL-safe random token. Uniqueness is structural
// (entropy-based), not checked against the store.
func NewSignatureToken() (string, error) {
	b := make([]byte, signatureTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// randomCode returns PREFIX-XXXXXXXXXXXXXXXX with an uppercase hex suffix.
func randomCode(prefix string) (string, error) {
	b := make([]byte, codeSuffixBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
