package tether

import "errors"

var (
	// ErrPrimitiveUnavailable means SHA-256 or the configured AEAD cannot be
	// used in this process
	ErrPrimitiveUnavailable = errors.New("cryptographic primitive unavailable")

	// ErrDecryption covers every way an envelope can fail to open: bad
	// encoding, truncation, wrong key or tampering
	ErrDecryption = errors.New("decryption failed")

	// ErrEncoding is returned together with ErrDecryption when the envelope
	// text is not valid base64
	ErrEncoding = errors.New("malformed envelope encoding")

	// ErrMigrationWrite is logged when a legacy plaintext record could not be
	// rewritten as an envelope; the legacy record is kept
	ErrMigrationWrite = errors.New("failed to migrate legacy record")

	// ErrKeyDerivation is returned when the key cannot be derived
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrSecretNotFound is returned by UseSecret when nothing is stored.
	// LoadSecret reports absence through its found result instead.
	ErrSecretNotFound = errors.New("secret not found")

	ErrEmptySecret = errors.New("secret cannot be empty")
	ErrVaultClosed = errors.New("vault is closed")
)
