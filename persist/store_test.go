package persist

import (
	"bytes"
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"sync"
	"testing"
)

const testNamespace = "test-namespace"

// Test the Common Store Functionality
func testStoreImplementation(t *testing.T, store Store) {
	ctx := context.Background()

	envelope := []byte("bm9uY2Vub25jZW5vbmNlY2lwaGVydGV4dHRhZw==")
	legacy := []byte("AIzaTest123")

	// Health and connectivity tests
	t.Run("Ping", func(t *testing.T) {
		err := store.Ping(ctx)
		assert.NoError(t, err, "Store should be reachable")
	})

	t.Run("GetType", func(t *testing.T) {
		storeType := store.GetType()
		assert.NotEmpty(t, storeType, "Store type should not be empty")
		t.Logf("Store type: %s", storeType)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "secure_jules_api_key", envelope))
		require.NoError(t, store.Set(ctx, "jules_api_key", legacy))

		got, err := store.Get(ctx, "secure_jules_api_key")
		require.NoError(t, err)
		assert.Equal(t, envelope, got)

		got, err = store.Get(ctx, "jules_api_key")
		require.NoError(t, err)
		assert.Equal(t, legacy, got)
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := store.Exists(ctx, "secure_jules_api_key")
		require.NoError(t, err)
		assert.True(t, exists, "Record should exist after saving")

		exists, err = store.Exists(ctx, "never_written")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Overwrite", func(t *testing.T) {
		replacement := []byte("replacement-envelope")
		require.NoError(t, store.Set(ctx, "secure_jules_api_key", replacement))

		got, err := store.Get(ctx, "secure_jules_api_key")
		require.NoError(t, err)
		assert.Equal(t, replacement, got, "Last write should win")
	})

	t.Run("ReturnedValueIsCopy", func(t *testing.T) {
		got, err := store.Get(ctx, "jules_api_key")
		require.NoError(t, err)
		for i := range got {
			got[i] = 'x'
		}

		again, err := store.Get(ctx, "jules_api_key")
		require.NoError(t, err)
		assert.Equal(t, legacy, again, "Mutating a returned value must not change the record")
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "jules_api_key"))

		_, err := store.Get(ctx, "jules_api_key")
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := store.Exists(ctx, "jules_api_key")
		require.NoError(t, err)
		assert.False(t, exists)

		// the other record is untouched
		_, err = store.Get(ctx, "secure_jules_api_key")
		assert.NoError(t, err)
	})

	t.Run("ErrorHandling", func(t *testing.T) {
		t.Run("GetNonexistentRecord", func(t *testing.T) {
			_, err := store.Get(ctx, "missing_record")
			assert.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("DeleteNonexistentRecord", func(t *testing.T) {
			assert.NoError(t, store.Delete(ctx, "missing_record"), "Deleting a missing record should be a no-op")
		})

		t.Run("SetInvalidKey", func(t *testing.T) {
			for _, key := range []string{"", "../escape", "with/slash", ".hidden", strings.Repeat("k", 129)} {
				assert.Error(t, store.Set(ctx, key, []byte("v")), "key %q should be rejected", key)
			}
		})
	})

	t.Run("EdgeCases", func(t *testing.T) {
		t.Run("EmptyValue", func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "empty_record", []byte{}))

			got, err := store.Get(ctx, "empty_record")
			require.NoError(t, err)
			assert.Empty(t, got)

			exists, err := store.Exists(ctx, "empty_record")
			require.NoError(t, err)
			assert.True(t, exists, "An empty record still exists")
		})

		t.Run("LargeValue", func(t *testing.T) {
			large := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
			require.NoError(t, store.Set(ctx, "large_record", large))

			got, err := store.Get(ctx, "large_record")
			require.NoError(t, err)
			assert.Equal(t, large, got)
		})
	})

	t.Run("ConcurrentOperations", func(t *testing.T) {
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers*2)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				key := fmt.Sprintf("concurrent_%d", n)
				value := []byte(fmt.Sprintf("value-%d", n))
				if err := store.Set(ctx, key, value); err != nil {
					errs <- err
					return
				}
				got, err := store.Get(ctx, key)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, value) {
					errs <- fmt.Errorf("key %s: got %q, want %q", key, got, value)
				}
			}(i)
		}

		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		assert.Error(t, store.Set(cancelled, "cancelled_record", []byte("v")))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, store.Close())
	})
}
