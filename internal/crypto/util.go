package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	AlgorithmAESGCM   = "AES-256-GCM"
	AlgorithmChaCha20 = "ChaCha20-Poly1305"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidKeySize       = errors.New("key must be exactly 32 bytes")
	ErrDataTooShort         = errors.New("encrypted data too short")
	ErrAuthentication       = errors.New("authentication failed")
)

// NewAEAD creates the AEAD cipher for the named algorithm. Both supported
// algorithms use a 12 byte nonce and a 16 byte tag.
func NewAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}

	switch algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return aead, nil
	case AlgorithmChaCha20:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// EncryptValue seals value under a fresh random nonce and returns the nonce
// and the ciphertext with its tag appended
func EncryptValue(aead cipher.AEAD, value []byte) (nonce, sealed []byte, err error) {
	nonce = make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed = aead.Seal(nil, nonce, value, nil)
	return nonce, sealed, nil
}

// DecryptValue opens a ciphertext produced by EncryptValue
func DecryptValue(aead cipher.AEAD, nonce, sealed []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() || len(sealed) < aead.Overhead() {
		return nil, ErrDataTooShort
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	return plaintext, nil
}

// DeriveKey stretches material with PBKDF2-HMAC-SHA256. The result is moved
// into a locked buffer and the intermediate slice is wiped; callers Destroy it.
func DeriveKey(material, salt []byte, iterations, keyLen int) *memguard.LockedBuffer {
	derivedKey := pbkdf2.Key(material, salt, iterations, keyLen, sha256.New)

	// NewBufferFromBytes wipes derivedKey
	return memguard.NewBufferFromBytes(derivedKey)
}

// CalculateChecksum calculates SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
