package tether

import (
	gocrypto "crypto"
	"fmt"
	"github.com/awnumar/memguard"
	"southwinds.dev/tether/internal/crypto"
	"southwinds.dev/tether/internal/misc"
)

// KDFParams configures PBKDF2-HMAC-SHA256
type KDFParams struct {
	Iterations int
	Salt       string
}

func DefaultKDFParams() KDFParams {
	return KDFParams{
		Iterations: misc.KDFIterations,
		Salt:       misc.KDFSalt,
	}
}

func (p KDFParams) Validate() error {
	if p.Iterations < misc.KDFIterations {
		return fmt.Errorf("kdf iterations must be at least %d, got %d", misc.KDFIterations, p.Iterations)
	}
	if p.Salt == "" {
		return fmt.Errorf("kdf salt cannot be empty")
	}
	return nil
}

// DeriveKey stretches the fingerprint into a 256-bit key held in a locked
// buffer. Keys are never cached: the caller destroys the buffer after the one
// encrypt or decrypt it was derived for, so fingerprint drift shows up on the
// very next operation.
func DeriveKey(fp [32]byte, params KDFParams) (*memguard.LockedBuffer, error) {
	if !gocrypto.SHA256.Available() {
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, ErrPrimitiveUnavailable)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	key := crypto.DeriveKey(fp[:], []byte(params.Salt), params.Iterations, misc.KDFKeyLen)
	memguard.WipeBytes(fp[:])

	if key.Size() != misc.KDFKeyLen {
		key.Destroy()
		return nil, fmt.Errorf("%w: derived %d bytes", ErrKeyDerivation, key.Size())
	}
	return key, nil
}
