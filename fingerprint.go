package tether

import (
	"crypto/sha256"
	"fmt"
	"southwinds.dev/tether/internal/misc"
	"strconv"
	"strings"
)

// Fingerprint hashes the environment attributes, in fixed order and joined by
// "|", with SHA-256: user agent, language, colour depth, WxH and timezone
// offset. Missing string attributes and unknown geometry are rendered as
// "unknown", so the result is defined for every environment.
//
// Attributes are neither escaped nor length-prefixed. A missing attribute
// hashes like the literal value "unknown", and a "|" inside one attribute can
// shift the boundary with its neighbour. Envelopes already stored depend on
// this exact input, so the format cannot change without orphaning them.
func Fingerprint(env Environment) [32]byte {
	return sha256.Sum256([]byte(fingerprintInput(env)))
}

func fingerprintInput(env Environment) string {
	width, height := env.ScreenSize()

	attributes := []string{
		orUnknown(env.UserAgent()),
		orUnknown(env.Language()),
		strconv.Itoa(env.ColorDepth()),
		geometry(width, height),
		strconv.Itoa(env.TimezoneOffset()),
	}
	return strings.Join(attributes, misc.FingerprintSeparator)
}

func orUnknown(value string) string {
	if value == "" {
		return misc.UnknownAttribute
	}
	return value
}

func geometry(width, height int) string {
	if width <= 0 || height <= 0 {
		return misc.UnknownAttribute
	}
	return fmt.Sprintf("%dx%d", width, height)
}
