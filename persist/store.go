package persist

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned by Get when no record exists under the key
var ErrNotFound = errors.New("record not found")

var keyRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-][a-zA-Z0-9_.\-]*$`)

// Store is the key-value capability the vault persists its records through.
// It mirrors the semantics of browser local storage: string keys, opaque
// values, last writer wins. Values written by the vault are either an
// encrypted envelope or, on the fallback and legacy paths, a plaintext
// record, so implementations must keep data private to the owning user.
type Store interface {

	// Get returns the value stored under key.
	// Returns:
	// - the stored bytes (a copy the caller may keep).
	// - ErrNotFound if no record exists, or a backend error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the record under key. Deleting a missing record is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a record is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Health and utilities

	// Ping tests the connectivity for remote backends.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error

	// GetType returns the backend type (e.g. "memory", "filesystem", "s3").
	GetType() string
}

// StoreConfig provides configuration for different storage backends.
//
// Example usage:
//
//	config := StoreConfig{
//	    Type:   StoreTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/var/lib/tether"},
//	}
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type" yaml:"type"`

	// Config contains backend specific settings, e.g. "base_path" for the
	// file system store or the S3Config fields for the s3 store.
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

const (
	// StoreTypeMemory keeps records in process memory; nothing survives a restart.
	StoreTypeMemory StoreType = "memory"

	// StoreTypeFileSystem keeps one file per record under base_path/namespace.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 keeps one object per record in an S3 compatible bucket.
	StoreTypeS3 StoreType = "s3"
)

// StoreInfo is written once per namespace by persistent backends so an
// operator can tell what owns the directory or prefix.
type StoreInfo struct {
	Version   string    `json:"version"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
	Structure string    `json:"structure_version"`
}

// ValidateKey checks that a record key is safe to use as a file or object name
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("record key cannot be empty")
	}
	if len(key) > 128 {
		return fmt.Errorf("record key too long (max 128 characters)")
	}
	if !keyRegex.MatchString(key) {
		return fmt.Errorf("record key %q contains invalid characters", key)
	}
	return nil
}
