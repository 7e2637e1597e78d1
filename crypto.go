package tether

import (
	"fmt"
	"github.com/awnumar/memguard"
	"southwinds.dev/tether/internal/crypto"
)

// Algorithm names the AEAD that seals envelopes. Both use a 12 byte nonce
// and a 16 byte tag, so envelopes share one framing.
type Algorithm string

const (
	// AlgorithmAESGCM is AES-256-GCM, the format existing installations wrote
	AlgorithmAESGCM Algorithm = crypto.AlgorithmAESGCM

	// AlgorithmChaCha20Poly1305 is for hosts without AES hardware support
	AlgorithmChaCha20Poly1305 Algorithm = crypto.AlgorithmChaCha20
)

func (a Algorithm) Validate() error {
	switch a {
	case AlgorithmAESGCM, AlgorithmChaCha20Poly1305:
		return nil
	default:
		return fmt.Errorf("%w: %q", crypto.ErrUnsupportedAlgorithm, string(a))
	}
}

// Encrypt seals plaintext under key with a fresh random nonce and returns the
// envelope. Encrypting the same plaintext twice yields different envelopes.
func Encrypt(plaintext string, key []byte, alg Algorithm) (string, error) {
	aead, err := crypto.NewAEAD(string(alg), key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	data := []byte(plaintext)
	defer memguard.WipeBytes(data)

	nonce, sealed, err := crypto.EncryptValue(aead, data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}

	return EncodeEnvelope(nonce, sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. It returns the exact
// plaintext or an error wrapping ErrDecryption; there is no partial result.
func Decrypt(envelope string, key []byte, alg Algorithm) (string, error) {
	nonce, sealed, err := DecodeEnvelope(envelope)
	if err != nil {
		return "", err
	}

	aead, err := crypto.NewAEAD(string(alg), key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	data, err := crypto.DecryptValue(aead, nonce, sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	defer memguard.WipeBytes(data)

	return string(data), nil
}
