package tether

import (
	gocrypto "crypto"
	"southwinds.dev/tether/internal/crypto"
)

// Probe reports whether the cryptographic primitives the vault needs can be
// used. When they cannot, the vault falls back to plaintext storage.
type Probe interface {
	Available() bool
}

// DefaultProbe checks that SHA-256 is linked in and that the AEAD for
// Algorithm can be constructed. It has no side effects.
type DefaultProbe struct {
	Algorithm Algorithm
}

func (p DefaultProbe) Available() bool {
	if !gocrypto.SHA256.Available() {
		return false
	}

	alg := p.Algorithm
	if alg == "" {
		alg = AlgorithmAESGCM
	}

	var key [32]byte
	_, err := crypto.NewAEAD(string(alg), key[:])
	return err == nil
}

// StaticProbe always reports the same answer
type StaticProbe bool

func (p StaticProbe) Available() bool {
	return bool(p)
}
