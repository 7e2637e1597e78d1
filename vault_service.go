// Package tether keeps a single API credential at rest, encrypted under a key
// derived from the characteristics of the device it was stored on.
//
// The key is PBKDF2-HMAC-SHA256 over a SHA-256 fingerprint of the environment
// (user agent, language, colour depth, screen geometry, timezone offset) and
// is derived afresh for every operation. Envelopes are
// base64(nonce ‖ ciphertext ‖ tag) sealed with AES-256-GCM by default.
//
// Records written by older releases in plaintext are migrated into an
// envelope the first time they are loaded. An envelope that no longer opens,
// because the fingerprint drifted or the stored bytes were damaged, is
// deleted and the secret reported as absent.
//
// Basic Usage:
//
//	store := persist.NewMemoryStore()
//	vault, err := tether.New(tether.Options{}, store, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer vault.Close()
//
//	// Store a secret
//	err = vault.StoreSecret(ctx, "AIza...")
//
//	// Retrieve it
//	secret, found, err := vault.LoadSecret(ctx)
package tether

import (
	"context"
)

// State describes which records are persisted, without opening them
type State int

const (
	// StateAbsent means neither an envelope nor a legacy record exists
	StateAbsent State = iota

	// StateEncryptedOnly is the steady state after a store or a migration
	StateEncryptedOnly

	// StatePlaintextOnly is a pre-migration install or the insecure fallback
	StatePlaintextOnly

	// StateBoth means a migration or store could not remove the legacy record
	StateBoth
)

func (s State) String() string {
	switch s {
	case StateEncryptedOnly:
		return "encrypted"
	case StatePlaintextOnly:
		return "plaintext"
	case StateBoth:
		return "encrypted+plaintext"
	default:
		return "absent"
	}
}

func stateOf(hasEnvelope, hasLegacy bool) State {
	switch {
	case hasEnvelope && hasLegacy:
		return StateBoth
	case hasEnvelope:
		return StateEncryptedOnly
	case hasLegacy:
		return StatePlaintextOnly
	default:
		return StateAbsent
	}
}

// VaultService is the surface collaborators use to keep the credential.
type VaultService interface {

	// StoreSecret encrypts secret and writes it as the envelope, replacing any
	// previous one, then removes the legacy plaintext record. A following
	// LoadSecret returns every non-empty secret unchanged; the empty string is
	// rejected with ErrEmptySecret because an empty record reads as absent,
	// although Encrypt itself accepts it.
	//
	// When the cryptographic primitives are unavailable the secret is written
	// to the legacy record in plaintext instead, any envelope is removed, and
	// the fallback is logged and audited as "insecure_fallback".
	//
	// Returns:
	//   - ErrEmptySecret if secret is empty.
	//   - ErrKeyDerivation if the key cannot be derived.
	//   - a wrapped storage error if the envelope (or fallback record) cannot be written.
	//
	// Failing to remove the legacy record after a successful write is logged,
	// not returned.
	StoreSecret(ctx context.Context, secret string) error

	// LoadSecret returns the stored secret.
	//
	// Resolution order:
	//  1. The envelope. If it fails to open for any decryption or encoding
	//     reason it is deleted and resolution continues; that failure is
	//     never returned.
	//  2. The legacy plaintext record. Its value is returned and, in the same
	//     call, sealed into a new envelope after which the legacy record is
	//     deleted. If that migration fails the legacy record is kept and the
	//     value is still returned.
	//  3. Otherwise found is false and err is nil.
	//
	// When the primitives are unavailable only the legacy record is read.
	//
	// Callers cannot tell "never stored" from "could not be decrypted"; both
	// report found == false. Errors are only returned for key derivation
	// failures and storage reads that fail for reasons other than absence.
	LoadSecret(ctx context.Context) (secret string, found bool, err error)

	// UseSecret loads the secret as LoadSecret does and hands it to fn in a
	// locked buffer that is destroyed when fn returns. Returns
	// ErrSecretNotFound when nothing is stored.
	UseSecret(ctx context.Context, fn func(secret []byte) error) error

	// ClearSecret deletes both the envelope and the legacy record. It is
	// idempotent and never fails; storage errors are logged.
	ClearSecret(ctx context.Context)

	// IsAvailable reports whether the encrypted path is usable.
	IsAvailable() bool

	// State reports which records exist without decrypting anything.
	State(ctx context.Context) (State, error)

	// Fingerprint returns the hex encoded device fingerprint for diagnostics.
	// The derived key is never exposed.
	Fingerprint() string

	// SecureMemoryProtection reports the memory locking level achieved
	// ("none", "partial" or "full").
	SecureMemoryProtection() string

	// Close closes the audit logger and releases memory locks. Operations on
	// a closed vault return ErrVaultClosed.
	Close() error
}
