package misc

const (
	// DefaultEnvelopeKey is the storage key holding the encrypted envelope
	DefaultEnvelopeKey = "secure_jules_api_key"
	// DefaultLegacyKey is the storage key of the pre-migration plaintext record
	DefaultLegacyKey = "jules_api_key"

	// KDFSalt is shared by all installations; changing it orphans every stored envelope
	KDFSalt = "tether.vault.salt.v1"
	// KDFIterations PBKDF2 default and floor
	KDFIterations = 100000
	KDFKeyLen     = 32

	NonceSize = 12
	TagSize   = 16

	// FingerprintSeparator joins environment attributes before hashing
	FingerprintSeparator = "|"
	// UnknownAttribute substitutes environment attributes that cannot be read
	UnknownAttribute = "unknown"

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)
