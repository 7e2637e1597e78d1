package tether

import (
	"fmt"
	"southwinds.dev/tether/internal/misc"
	"southwinds.dev/tether/persist"
)

// Options represents configuration parameters for vault initialization.
//
// The zero value is usable: every empty field is replaced by its default when
// the vault is created. Only the storage keys, the algorithm and the KDF
// settings are serializable; the injected capabilities are not.
type Options struct {
	// EnvelopeKey is the storage key of the encrypted envelope.
	// Default: "secure_jules_api_key".
	EnvelopeKey string `json:"envelope_key,omitempty" yaml:"envelope_key,omitempty"`

	// LegacyKey is the storage key of the pre-migration plaintext record.
	// It is also where the insecure fallback writes when the cryptographic
	// primitives are unavailable. Default: "jules_api_key".
	LegacyKey string `json:"legacy_key,omitempty" yaml:"legacy_key,omitempty"`

	// Algorithm selects the AEAD used to seal envelopes. Default: AES-256-GCM,
	// the format written by existing installations.
	Algorithm Algorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`

	// KDFIterations is the PBKDF2 iteration count; values below 100000 are rejected.
	KDFIterations int `json:"kdf_iterations,omitempty" yaml:"kdf_iterations,omitempty"`

	// KDFSalt is the fixed, versioned salt. Changing it makes every envelope
	// written under the old salt unreadable (they are then discarded on load).
	KDFSalt string `json:"kdf_salt,omitempty" yaml:"kdf_salt,omitempty"`

	// Environment supplies the fingerprint attributes. Default: the host environment.
	Environment Environment `json:"-" yaml:"-"`

	// Probe reports whether the cryptographic primitives can be used.
	// Default: DefaultProbe for the configured algorithm.
	Probe Probe `json:"-" yaml:"-"`

	// EnableMemoryLock attempts to lock process memory so derived keys and
	// plaintext secrets are never swapped to disk. Failure is not fatal.
	EnableMemoryLock bool `json:"enable_memory_lock" yaml:"enable_memory_lock"`

	// the user on whose behalf the vault is used; recorded in audit events
	UserID string `json:"-" yaml:"-"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	if err := persist.ValidateKey(o.EnvelopeKey); err != nil {
		return fmt.Errorf("invalid envelope key: %w", err)
	}
	if err := persist.ValidateKey(o.LegacyKey); err != nil {
		return fmt.Errorf("invalid legacy key: %w", err)
	}
	if o.EnvelopeKey == o.LegacyKey {
		return fmt.Errorf("envelope key and legacy key must differ, both are %q", o.EnvelopeKey)
	}
	if err := o.Algorithm.Validate(); err != nil {
		return err
	}
	if err := o.kdfParams().Validate(); err != nil {
		return err
	}
	return nil
}

// WithDefaults returns a copy with every unset field replaced by its default
func (o Options) WithDefaults() Options {
	if o.EnvelopeKey == "" {
		o.EnvelopeKey = misc.DefaultEnvelopeKey
	}
	if o.LegacyKey == "" {
		o.LegacyKey = misc.DefaultLegacyKey
	}
	if o.Algorithm == "" {
		o.Algorithm = AlgorithmAESGCM
	}
	if o.KDFIterations == 0 {
		o.KDFIterations = misc.KDFIterations
	}
	if o.KDFSalt == "" {
		o.KDFSalt = misc.KDFSalt
	}
	if o.Environment == nil {
		o.Environment = NewHostEnvironment()
	}
	if o.Probe == nil {
		o.Probe = DefaultProbe{Algorithm: o.Algorithm}
	}
	if o.UserID == "" {
		o.UserID = "system"
	}
	return o
}

func (o Options) kdfParams() KDFParams {
	return KDFParams{
		Iterations: o.KDFIterations,
		Salt:       o.KDFSalt,
	}
}
