package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFileLogger(t *testing.T, path string) *FileLogger {
	t.Helper()
	logger, err := NewFileLogger(&Config{
		Enabled:   true,
		Namespace: "test-namespace",
		Type:      FileAuditType,
		Options:   map[string]interface{}{"file_path": path},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestFileLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	logger := newTestFileLogger(t, path)

	require.NoError(t, logger.Log(ActionSecretStore, true, map[string]interface{}{
		"request_id":  "req-1",
		"storage_key": "secure_jules_api_key",
	}))
	require.NoError(t, logger.Log(ActionInsecureFallback, true, map[string]interface{}{
		"storage_key": "jules_api_key",
	}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.Len(t, events, 2)
	assert.Equal(t, ActionSecretStore, events[0].Action)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "test-namespace", events[0].Namespace)
	assert.Equal(t, "jules_api_key", events[1].StorageKey)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), stat.Mode().Perm())
}

func TestFileLogger_Query(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := newTestFileLogger(t, path)

	require.NoError(t, logger.Log(ActionSecretStore, true, map[string]interface{}{"storage_key": "secure_jules_api_key"}))
	require.NoError(t, logger.Log(ActionSecretLoad, false, map[string]interface{}{"error": "decryption failed"}))
	require.NoError(t, logger.Log(ActionEnvelopeDiscarded, true, map[string]interface{}{"storage_key": "secure_jules_api_key"}))
	require.NoError(t, logger.Log(ActionSecretLoad, true, nil))

	t.Run("All", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{})
		require.NoError(t, err)
		assert.Equal(t, 4, result.TotalCount)
		assert.Len(t, result.Events, 4)
		assert.False(t, result.HasMore)
	})

	t.Run("ByAction", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Action: ActionSecretLoad})
		require.NoError(t, err)
		assert.Len(t, result.Events, 2)
	})

	t.Run("FailuresOnly", func(t *testing.T) {
		failed := false
		result, err := logger.Query(QueryOptions{Success: &failed})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "decryption failed", result.Events[0].Error)
	})

	t.Run("ByStorageKey", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{StorageKey: "secure_jules_api_key"})
		require.NoError(t, err)
		assert.Len(t, result.Events, 2)
	})

	t.Run("SecurityRelevant", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{SecurityRelevant: true})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, ActionEnvelopeDiscarded, result.Events[0].Action)
	})

	t.Run("LimitAndOffset", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, result.Events, 3)
		assert.True(t, result.HasMore)

		result, err = logger.Query(QueryOptions{Limit: 3, Offset: 3})
		require.NoError(t, err)
		assert.Len(t, result.Events, 1)
		assert.False(t, result.HasMore)
	})

	t.Run("FromCache", func(t *testing.T) {
		since := time.Now().Add(-time.Hour)
		result, err := logger.Query(QueryOptions{Since: &since})
		require.NoError(t, err)
		// the cache starts at the first event so an earlier bound falls back to the file
		assert.Len(t, result.Events, 4)

		since = result.Events[len(result.Events)-1].Timestamp
		result, err = logger.Query(QueryOptions{Since: &since})
		require.NoError(t, err)
		assert.Len(t, result.Events, 4)
	})
}

func TestFileLogger_ReopensAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := newTestFileLogger(t, path)

	require.NoError(t, logger.Log(ActionSecretStore, true, nil))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Log(ActionSecretClear, true, nil))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Events, 2)
}

func TestFileLogger_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger := newTestFileLogger(t, path)
	logger.fileOpts.maxBytes = 512
	logger.fileOpts.MaxBackups = 2

	for i := 0; i < 20; i++ {
		require.NoError(t, logger.Log(ActionSecretLoad, true, map[string]interface{}{
			"request_id": fmt.Sprintf("req-%02d", i),
		}))
	}

	_, err := os.Stat(path + ".1")
	assert.NoError(t, err, "first backup should exist")
	_, err = os.Stat(path + ".2")
	assert.NoError(t, err, "second backup should exist")
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "backups beyond MaxBackups are removed")

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, stat.Size(), int64(512))

	// the newest event is always in the live file
	result, err := logger.Query(QueryOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "req-19", result.Events[0].RequestID)
	assert.Equal(t, []string{path + ".1", path + ".2"}, logger.backupFiles())
}
