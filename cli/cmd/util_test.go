package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"southwinds.dev/tether/audit"
	"southwinds.dev/tether/persist"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	setDefaults()
	t.Cleanup(viper.Reset)
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "", formatError(nil))
	assert.Equal(t, "Error: Disk full", formatError(errors.New("disk full")))

	wrapped := fmt.Errorf("failed to store secret: %w", errors.New("disk full"))
	assert.Equal(t, "Error: failed to store secret: disk full (caused by: disk full)", formatError(wrapped))
}

func TestIsSensitiveFlag(t *testing.T) {
	for _, name := range []string{"secret", "s3-secret-key", "s3-access-key", "store.s3.access_key_id", "TETHER_STORE_S3_SECRET_ACCESS_KEY", "api-token"} {
		assert.True(t, isSensitiveFlag(name), name)
	}
	for _, name := range []string{"envelope-key", "legacy-key", "store-type", "namespace", "file"} {
		assert.False(t, isSensitiveFlag(name), name)
	}
}

func TestSanitizeArgs(t *testing.T) {
	args := []string{"AIzaSyExample", "status", "sk-abc", "a1b2c3d4e5f6g7h8i9j0k1", "/var/lib/tether/a1b2c3d4e5f6g7h8i9j0", "short1"}
	assert.Equal(t, []string{"[REDACTED]", "status", "[REDACTED]", "[REDACTED]", "/var/lib/tether/a1b2c3d4e5f6g7h8i9j0", "short1"}, sanitizeArgs(args))
	assert.Empty(t, sanitizeArgs(nil))
}

func TestSanitizeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "store"}
	cmd.Flags().String("secret", "", "")
	cmd.Flags().String("file", "", "")
	cmd.Flags().Bool("json", false, "")
	require.NoError(t, cmd.Flags().Set("secret", "AIzaTest123"))
	require.NoError(t, cmd.Flags().Set("file", "key.txt"))

	flags := sanitizeFlags(cmd)
	assert.Equal(t, map[string]interface{}{"secret": "[REDACTED]", "file": "key.txt"}, flags)
}

func TestValidateS3Config(t *testing.T) {
	valid := persist.S3Config{Endpoint: "localhost:9000", Bucket: "tether", Region: "us-east-1"}
	assert.NoError(t, validateS3Config(valid))

	withKeys := valid
	withKeys.AccessKeyID = "id"
	withKeys.SecretAccessKey = "secret"
	assert.NoError(t, validateS3Config(withKeys))

	halfKeys := valid
	halfKeys.AccessKeyID = "id"
	assert.ErrorContains(t, validateS3Config(halfKeys), "store.s3.secret_access_key")

	err := validateS3Config(persist.S3Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.s3.endpoint")
	assert.Contains(t, err.Error(), "store.s3.bucket")
	assert.Contains(t, err.Error(), "store.s3.region")
}

func TestConvertStringValue(t *testing.T) {
	assert.Equal(t, true, convertStringValue("true"))
	assert.Equal(t, false, convertStringValue("false"))
	assert.Equal(t, 200000, convertStringValue("200000"))
	assert.Equal(t, "AES-256-GCM", convertStringValue("AES-256-GCM"))
}

func TestValidateConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   interface{}
		wantErr bool
	}{
		{"store.type", "filesystem", false},
		{"store.type", "redis", true},
		{"audit.type", "syslog", false},
		{"audit.type", "stdout", true},
		{"vault.algorithm", "ChaCha20-Poly1305", false},
		{"vault.algorithm", "DES", true},
		{"vault.kdf_iterations", 100000, false},
		{"vault.kdf_iterations", 1000, true},
		{"vault.kdf_iterations", "many", true},
		{"vault.envelope_key", "my_key", false},
		{"vault.legacy_key", "../escape", true},
		{"store.namespace", "anything", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.key, tt.value), func(t *testing.T) {
			err := validateConfigValue(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConfiguration(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		resetViper(t)
		assert.Empty(t, validateConfiguration())
	})

	t.Run("InvalidValues", func(t *testing.T) {
		resetViper(t)
		viper.Set("store.type", "ftp")
		viper.Set("vault.kdf_iterations", 10)
		viper.Set("audit.enabled", true)
		viper.Set("audit.type", "stdout")
		assert.Len(t, validateConfiguration(), 3)
	})

	t.Run("SameStorageKeys", func(t *testing.T) {
		resetViper(t)
		viper.Set("vault.envelope_key", "api_key")
		viper.Set("vault.legacy_key", "api_key")
		problems := validateConfiguration()
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0], "must differ")
	})

	t.Run("S3Incomplete", func(t *testing.T) {
		resetViper(t)
		viper.Set("store.type", "s3")
		problems := validateConfiguration()
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0], "store.s3.bucket")
	})
}

func TestIsValidConfigKey(t *testing.T) {
	assert.True(t, isValidConfigKey("store.type"))
	assert.True(t, isValidConfigKey("vault.kdf_iterations"))
	assert.False(t, isValidConfigKey("vault.passphrase"))
}

func TestMaskSensitiveValues(t *testing.T) {
	config := map[string]interface{}{
		"store": map[string]interface{}{
			"type": "s3",
			"s3": map[string]interface{}{
				"bucket":            "tether",
				"access_key_id":     "AKIAEXAMPLE",
				"secret_access_key": "hunter2",
			},
		},
	}
	maskSensitiveValues(config)

	s3 := config["store"].(map[string]interface{})["s3"].(map[string]interface{})
	assert.Equal(t, "tether", s3["bucket"])
	assert.Equal(t, "[REDACTED]", s3["access_key_id"])
	assert.Equal(t, "[REDACTED]", s3["secret_access_key"])
}

func TestSkipsVault(t *testing.T) {
	assert.True(t, skipsVault(configValidateCmd))
	assert.True(t, skipsVault(completionCmd))
	assert.True(t, skipsVault(debugConfigCmd))
	assert.False(t, skipsVault(statusCmd))
	assert.False(t, skipsVault(auditQueryCmd))
}

func TestReadSecretData(t *testing.T) {
	reset := func() {
		secretData = ""
		secretFile = ""
	}
	t.Cleanup(reset)

	t.Run("Flag", func(t *testing.T) {
		reset()
		secretData = "AIzaTest123"
		data, err := readSecretData(os.Stdin)
		require.NoError(t, err)
		assert.Equal(t, "AIzaTest123", string(data))
	})

	t.Run("File", func(t *testing.T) {
		reset()
		secretFile = filepath.Join(t.TempDir(), "key.txt")
		require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0600))

		data, err := readSecretData(os.Stdin)
		require.NoError(t, err)
		assert.Equal(t, "from-file", string(data))
	})

	t.Run("Pipe", func(t *testing.T) {
		reset()
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()
		_, err = w.Write([]byte("piped-secret\r\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := readSecretData(r)
		require.NoError(t, err)
		assert.Equal(t, "piped-secret", string(data))
	})

	t.Run("Empty", func(t *testing.T) {
		reset()
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()
		_, err = w.Write([]byte("\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = readSecretData(r)
		assert.ErrorContains(t, err, "empty")
	})
}

func TestPrintLoadResultJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printLoadResultJSON(&buf, "", false))
	assert.JSONEq(t, `{"found": false}`, buf.String())

	buf.Reset()
	require.NoError(t, printLoadResultJSON(&buf, "AIzaTest123", true))
	assert.JSONEq(t, `{"found": true, "secret": "AIzaTest123"}`, buf.String())
}

func TestCalculateAuditStats(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Action: audit.ActionSecretLoad, Success: true, Timestamp: base},
		{Action: audit.ActionSecretMigrate, Success: true, Timestamp: base.Add(time.Minute)},
		{Action: audit.ActionEnvelopeDiscarded, Success: false, Timestamp: base.Add(2 * time.Hour)},
		{Action: audit.ActionInsecureFallback, Success: true, Timestamp: base.Add(24 * time.Hour)},
		{Action: audit.ActionSecretLoad, Success: false, Timestamp: base.Add(25 * time.Hour)},
	}

	stats := calculateAuditStats(events, "default")
	assert.Equal(t, "default", stats.Namespace)
	assert.Equal(t, 5, stats.TotalEvents)
	assert.Equal(t, 3, stats.SuccessfulEvents)
	assert.Equal(t, 2, stats.FailedEvents)
	assert.InDelta(t, 60.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 1, stats.Migrations)
	assert.Equal(t, 1, stats.DiscardedEnvelopes)
	assert.Equal(t, 1, stats.InsecureFallbacks)
	assert.Equal(t, 2, stats.ActionBreakdown[audit.ActionSecretLoad])
	assert.Equal(t, map[string]int{"2025-03-01": 3, "2025-03-02": 2}, stats.DailyDistribution)
	require.NotNil(t, stats.FirstEvent)
	require.NotNil(t, stats.LastEvent)
	assert.Equal(t, base, *stats.FirstEvent)
	assert.Equal(t, base.Add(25*time.Hour), *stats.LastEvent)

	empty := calculateAuditStats(nil, "default")
	assert.Zero(t, empty.TotalEvents)
	assert.Nil(t, empty.FirstEvent)

	var buf bytes.Buffer
	require.NoError(t, displayAuditStats(&buf, stats))
	assert.Contains(t, buf.String(), "Discarded Envelopes: 1")
}

func TestGetTopActions(t *testing.T) {
	top := getTopActions(map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	assert.Equal(t, []ActionCount{{"c", 5}, {"a", 2}, {"b", 2}}, top)
}

func TestDisplayAuditEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, displayAuditEvents(&buf, nil))
	assert.Equal(t, "No audit events found.\n", buf.String())

	buf.Reset()
	events := []audit.Event{{
		Action:     audit.ActionEnvelopeDiscarded,
		StorageKey: "secure_jules_api_key",
		Error:      "decryption failed",
		Timestamp:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, displayAuditEvents(&buf, events))
	out := buf.String()
	assert.Contains(t, out, "envelope_discarded")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "secure_jules_api_key")
}
