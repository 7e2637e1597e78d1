package cmd

import (
	"encoding/json"
	"fmt"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"sort"
	"southwinds.dev/tether"
	"southwinds.dev/tether/audit"
	"southwinds.dev/tether/internal/misc"
	"southwinds.dev/tether/persist"
	"strconv"
	"strings"
	"text/tabwriter"
)

var (
	validStoreTypes = []string{"memory", "filesystem", "s3"}
	validAuditTypes = []string{"file", "syslog"}
	validAlgorithms = []string{string(tether.AlgorithmAESGCM), string(tether.AlgorithmChaCha20Poly1305)}
)

func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tether.yaml")
}

func ensureConfigDir(configFile string) error {
	return os.MkdirAll(filepath.Dir(configFile), misc.DirPermissions)
}

func isValidConfigKey(key string) bool {
	_, ok := getConfigKeyDescriptions()[key]
	return ok
}

// convertStringValue turns a command line value into a bool or an int when it
// parses as one, otherwise it stays a string
func convertStringValue(value string) interface{} {
	if value == "true" || value == "false" {
		return value == "true"
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return value
}

func getConfigTemplate(template string) map[string]interface{} {
	switch template {
	case "minimal":
		return map[string]interface{}{
			"store": map[string]interface{}{
				"type": "filesystem",
				"path": defaultStorePath(),
			},
		}
	case "full":
		return map[string]interface{}{
			"store": map[string]interface{}{
				"type":      "filesystem",
				"path":      defaultStorePath(),
				"namespace": "default",
				"s3": map[string]interface{}{
					"endpoint": "",
					"bucket":   "",
					"region":   "us-east-1",
					"prefix":   "tether/",
					"use_ssl":  true,
				},
			},
			"vault": map[string]interface{}{
				"algorithm":      string(tether.AlgorithmAESGCM),
				"kdf_iterations": tether.DefaultKDFParams().Iterations,
				"envelope_key":   "",
				"legacy_key":     "",
				"memory_lock":    false,
			},
			"audit": map[string]interface{}{
				"enabled":   false,
				"type":      "file",
				"log_level": "info",
				"options": map[string]interface{}{
					"file_path":   "audit.log",
					"max_size":    100,
					"max_backups": 5,
				},
			},
		}
	default:
		return map[string]interface{}{
			"store": map[string]interface{}{
				"type":      "filesystem",
				"path":      defaultStorePath(),
				"namespace": "default",
			},
			"vault": map[string]interface{}{
				"algorithm": string(tether.AlgorithmAESGCM),
			},
			"audit": map[string]interface{}{
				"enabled": false,
				"type":    "file",
				"options": map[string]interface{}{
					"file_path": "audit.log",
				},
			},
		}
	}
}

// validateConfiguration checks the merged viper settings and returns one
// message per problem found
func validateConfiguration() []string {
	var problems []string

	storeType := viper.GetString("store.type")
	if !contains(validStoreTypes, storeType) {
		problems = append(problems, fmt.Sprintf("invalid store type: %s (must be one of: %s)",
			storeType, strings.Join(validStoreTypes, ", ")))
	}

	switch storeType {
	case "filesystem":
		if viper.GetString("store.path") == "" {
			problems = append(problems, "store path is required when using the filesystem store")
		}
	case "s3":
		if err := validateS3Config(s3ConfigFromViper()); err != nil {
			problems = append(problems, err.Error())
		}
	}

	options := tether.Options{
		EnvelopeKey:   viper.GetString("vault.envelope_key"),
		LegacyKey:     viper.GetString("vault.legacy_key"),
		Algorithm:     tether.Algorithm(viper.GetString("vault.algorithm")),
		KDFIterations: viper.GetInt("vault.kdf_iterations"),
	}.WithDefaults()
	if err := options.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if viper.GetBool("audit.enabled") {
		auditType := viper.GetString("audit.type")
		if !contains(validAuditTypes, auditType) {
			problems = append(problems, fmt.Sprintf("invalid audit type: %s (must be one of: %s)",
				auditType, strings.Join(validAuditTypes, ", ")))
		}

		if auditType == string(audit.FileAuditType) && viper.GetString("audit.options.file_path") == "" {
			problems = append(problems, "audit file path is required when using file audit")
		}
	}

	return problems
}

// validateConfigValue rejects values that would make the vault fail to open
func validateConfigValue(key string, value interface{}) error {
	str, isString := value.(string)

	switch key {
	case "store.type":
		if !isString || !contains(validStoreTypes, str) {
			return fmt.Errorf("invalid store type: %v (valid: %s)", value, strings.Join(validStoreTypes, ", "))
		}
	case "audit.type":
		if !isString || !contains(validAuditTypes, str) {
			return fmt.Errorf("invalid audit type: %v (valid: %s)", value, strings.Join(validAuditTypes, ", "))
		}
	case "vault.algorithm":
		if !isString || !contains(validAlgorithms, str) {
			return fmt.Errorf("invalid algorithm: %v (valid: %s)", value, strings.Join(validAlgorithms, ", "))
		}
	case "vault.kdf_iterations":
		n, ok := value.(int)
		if !ok {
			return fmt.Errorf("kdf iterations must be an integer, got %v", value)
		}
		params := tether.DefaultKDFParams()
		params.Iterations = n
		if err := params.Validate(); err != nil {
			return err
		}
	case "vault.envelope_key", "vault.legacy_key":
		if !isString {
			return fmt.Errorf("%s must be a string, got %v", key, value)
		}
		if err := persist.ValidateKey(str); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func getConfigKeyDescriptions() map[string]string {
	return map[string]string{
		"store.type":                 "Storage backend type (memory, filesystem, s3)",
		"store.path":                 "Base path of the filesystem store",
		"store.namespace":            "Namespace the records are kept under",
		"store.s3.endpoint":          "S3 endpoint URL",
		"store.s3.bucket":            "S3 bucket name",
		"store.s3.region":            "S3 region",
		"store.s3.prefix":            "S3 key prefix",
		"store.s3.use_ssl":           "Use SSL for S3 connections",
		"store.s3.access_key_id":     "S3 access key ID",
		"store.s3.secret_access_key": "S3 secret access key",
		"vault.algorithm":            "Envelope cipher (AES-256-GCM, ChaCha20-Poly1305)",
		"vault.kdf_iterations":       "PBKDF2 iteration count (minimum 100000)",
		"vault.envelope_key":         "Storage key of the encrypted envelope",
		"vault.legacy_key":           "Storage key of the legacy plaintext record",
		"vault.memory_lock":          "Lock process memory to keep keys out of swap",
		"audit.enabled":              "Enable audit logging",
		"audit.type":                 "Audit logger type (file, syslog)",
		"audit.log_level":            "Audit log level (debug, info, warn, error)",
		"audit.options.file_path":    "Audit log file path",
		"audit.options.max_size":     "Audit log size in MB before rotation",
		"audit.options.max_backups":  "Rotated audit logs to keep",
	}
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// printConfigTable prints configuration in table format
func printConfigTable() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	fmt.Fprintln(w, "---\t-----\t------")

	var keys []string
	flattenKeys(viper.AllSettings(), "", &keys)
	sort.Strings(keys)

	for _, key := range keys {
		value := viper.Get(key)
		source := "default"
		if viper.ConfigFileUsed() != "" {
			source = filepath.Base(viper.ConfigFileUsed())
		}

		envKey := "TETHER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" {
			source = "environment"
		}

		if isSensitiveFlag(key) {
			value = "[REDACTED]"
		}

		fmt.Fprintf(w, "%s\t%v\t%s\n", key, value, source)
	}

	return nil
}

// printConfigJSON prints configuration in JSON format
func printConfigJSON() error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

// printConfigYAML prints configuration in YAML format
func printConfigYAML() error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

func printConfigKeysTable(keys map[string]string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tDESCRIPTION")
	fmt.Fprintln(w, "---\t-----------")

	sortedKeys := make([]string, 0, len(keys))
	for key := range keys {
		sortedKeys = append(sortedKeys, key)
	}
	sort.Strings(sortedKeys)

	for _, key := range sortedKeys {
		fmt.Fprintf(w, "%s\t%s\n", key, keys[key])
	}

	return nil
}

func printConfigKeysYAML(keys map[string]string) error {
	data, err := yaml.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys to YAML: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

func printConfigKeysJSON(keys map[string]string) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keys to JSON: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

// flattenKeys recursively flattens nested maps into dot-notation keys
func flattenKeys(m map[string]interface{}, prefix string, keys *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if nested, ok := v.(map[string]interface{}); ok {
			flattenKeys(nested, key, keys)
		} else {
			*keys = append(*keys, key)
		}
	}
}

// maskSensitiveValues recursively masks sensitive values in configuration
func maskSensitiveValues(config map[string]interface{}) {
	for key, value := range config {
		if isSensitiveFlag(key) {
			config[key] = "[REDACTED]"
		} else if nested, ok := value.(map[string]interface{}); ok {
			maskSensitiveValues(nested)
		}
	}
}
