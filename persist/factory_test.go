package persist

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewStore(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Type: StoreTypeMemory}, testNamespace)
		require.NoError(t, err)
		assert.Equal(t, "memory", store.GetType())
	})

	t.Run("FileSystem", func(t *testing.T) {
		store, err := NewStore(StoreConfig{
			Type:   StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": t.TempDir()},
		}, testNamespace)
		require.NoError(t, err)
		assert.Equal(t, "filesystem", store.GetType())
	})

	t.Run("FileSystemWithoutBasePath", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: StoreTypeFileSystem}, testNamespace)
		assert.ErrorContains(t, err, "base_path")
	})

	t.Run("S3WithoutBucket", func(t *testing.T) {
		_, err := NewStore(StoreConfig{
			Type:   StoreTypeS3,
			Config: map[string]interface{}{"endpoint": "localhost:9000"},
		}, testNamespace)
		assert.ErrorContains(t, err, "bucket")
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: "etcd"}, testNamespace)
		assert.ErrorContains(t, err, "unsupported store type")
	})
}

func TestValidateKey(t *testing.T) {
	valid := []string{"jules_api_key", "secure_jules_api_key", "a", "key-1", "v1.envelope", "_private"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), key)
	}

	invalid := []string{"", ".hidden", "a/b", `a\b`, "sp ace", "../x"}
	for _, key := range invalid {
		assert.Error(t, ValidateKey(key), key)
	}
}

func TestValidateNamespace(t *testing.T) {
	assert.NoError(t, validateNamespace("default"))
	assert.Error(t, validateNamespace(""))
	assert.Error(t, validateNamespace("a..b"))
}
