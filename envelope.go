package tether

import (
	"encoding/base64"
	"fmt"
	"southwinds.dev/tether/internal/misc"
	"strings"
)

// EncodeEnvelope frames nonce ‖ ciphertext ‖ tag as standard padded base64,
// the format browsers produce with btoa
func EncodeEnvelope(nonce, sealed []byte) string {
	raw := make([]byte, 0, len(nonce)+len(sealed))
	raw = append(raw, nonce...)
	raw = append(raw, sealed...)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeEnvelope splits an envelope into the 12 byte nonce and the sealed
// remainder. Decoding is strict: non-zero trailing bits and line breaks are
// rejected, so every altered character of a valid envelope either fails here
// or changes the decoded bytes. Invalid base64 fails with both ErrDecryption
// and ErrEncoding; anything shorter than nonce plus tag fails with ErrDecryption.
func DecodeEnvelope(envelope string) (nonce, sealed []byte, err error) {
	if strings.ContainsAny(envelope, "\r\n") {
		return nil, nil, fmt.Errorf("%w: %w: line break in envelope", ErrDecryption, ErrEncoding)
	}

	raw, err := base64.StdEncoding.Strict().DecodeString(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w: %v", ErrDecryption, ErrEncoding, err)
	}

	if len(raw) < misc.NonceSize+misc.TagSize {
		return nil, nil, fmt.Errorf("%w: envelope is %d bytes, need at least %d",
			ErrDecryption, len(raw), misc.NonceSize+misc.TagSize)
	}

	return raw[:misc.NonceSize], raw[misc.NonceSize:], nil
}
