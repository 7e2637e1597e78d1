package cmd

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"southwinds.dev/tether"
	"southwinds.dev/tether/audit"
	"southwinds.dev/tether/persist"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	store       persist.Store
	vaultSvc    tether.VaultService
	auditLogger audit.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname/IP
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "A device bound vault for a single API credential",
	Long: `tether keeps one API credential encrypted at rest with a key derived from
the fingerprint of the current device. Nothing but the device itself is needed
to unlock it; moving the stored envelope to another machine makes it unreadable.

Plaintext records written by older installations are migrated to the encrypted
format the first time they are loaded.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initializeVault,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeVault()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", formatError(err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tether.yaml)")

	// Storage flags
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (memory, filesystem, s3)")
	rootCmd.PersistentFlags().StringP("path", "p", "", "base path of the filesystem store")
	rootCmd.PersistentFlags().StringP("namespace", "n", "", "namespace the records are kept under")

	bindFlagOrPanic("store.type", "store-type")
	bindFlagOrPanic("store.path", "path")
	bindFlagOrPanic("store.namespace", "namespace")

	// Vault flags
	rootCmd.PersistentFlags().String("algorithm", "", "envelope cipher (AES-256-GCM, ChaCha20-Poly1305)")
	rootCmd.PersistentFlags().Int("kdf-iterations", 0, "PBKDF2 iteration count (minimum 100000)")
	rootCmd.PersistentFlags().String("envelope-key", "", "storage key of the encrypted envelope")
	rootCmd.PersistentFlags().String("legacy-key", "", "storage key of the legacy plaintext record")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock process memory to keep keys out of swap")

	bindFlagOrPanic("vault.algorithm", "algorithm")
	bindFlagOrPanic("vault.kdf_iterations", "kdf-iterations")
	bindFlagOrPanic("vault.envelope_key", "envelope-key")
	bindFlagOrPanic("vault.legacy_key", "legacy-key")
	bindFlagOrPanic("vault.memory_lock", "memory-lock")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")
	rootCmd.PersistentFlags().String("audit-level", "", "audit log level (debug, info, warn, error)")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
	bindFlagOrPanic("audit.log_level", "audit-level")

	// S3 flags
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("store.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("store.s3.region", "s3-region")
	bindFlagOrPanic("store.s3.bucket", "s3-bucket")
	bindFlagOrPanic("store.s3.prefix", "s3-prefix")
	bindFlagOrPanic("store.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("store.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("store.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/tether")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".tether")
	}

	// TETHER_STORE_TYPE, TETHER_AUDIT_ENABLED, ...
	viper.SetEnvPrefix("TETHER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if os.Getenv("DEBUG") == "true" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("store.type", string(persist.StoreTypeFileSystem))
	viper.SetDefault("store.path", defaultStorePath())
	viper.SetDefault("store.namespace", "default")

	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.prefix", "tether/")
	viper.SetDefault("store.s3.use_ssl", true)

	viper.SetDefault("vault.algorithm", string(tether.AlgorithmAESGCM))
	viper.SetDefault("vault.kdf_iterations", tether.DefaultKDFParams().Iterations)
	viper.SetDefault("vault.envelope_key", "")
	viper.SetDefault("vault.legacy_key", "")
	viper.SetDefault("vault.memory_lock", false)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", string(audit.FileAuditType))
	viper.SetDefault("audit.options.max_size", 100)
	viper.SetDefault("audit.options.max_backups", 5)
	viper.SetDefault("audit.log_level", "info")

	// resolved against store.path in initializeVault
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func defaultStorePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tether")
	}
	return ".tether"
}

// skipsVault reports whether a command runs without opening the vault
func skipsVault(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "__complete", "__completeNoDesc", "config", "debug-config":
			return true
		}
	}
	return false
}

func initializeVault(cmd *cobra.Command, args []string) error {
	if skipsVault(cmd) {
		return nil
	}

	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(viper.GetString("store.path"), "audit.log"))
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	store, err = createStore()
	if err != nil {
		_ = auditLogger.Close()
		return fmt.Errorf("failed to create store: %w", err)
	}

	vs, err := tether.New(vaultOptions(), store, auditLogger)
	if err != nil {
		_ = auditLogger.Close()
		_ = store.Close()
		return fmt.Errorf("failed to initialize vault: %w", err)
	}
	vaultSvc = vs

	return nil
}

func closeVault() error {
	var errs []error
	if vaultSvc != nil {
		errs = append(errs, vaultSvc.Close())
		vaultSvc = nil
	}
	if store != nil {
		errs = append(errs, store.Close())
		store = nil
	}
	return errors.Join(errs...)
}

func vaultOptions() tether.Options {
	return tether.Options{
		EnvelopeKey:      viper.GetString("vault.envelope_key"),
		LegacyKey:        viper.GetString("vault.legacy_key"),
		Algorithm:        tether.Algorithm(viper.GetString("vault.algorithm")),
		KDFIterations:    viper.GetInt("vault.kdf_iterations"),
		EnableMemoryLock: viper.GetBool("vault.memory_lock"),
		UserID:           cliContext.UserID,
	}
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled:   viper.GetBool("audit.enabled"),
		Namespace: viper.GetString("store.namespace"),
		Type:      audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path":   viper.GetString("audit.options.file_path"),
			"max_size":    viper.GetInt("audit.options.max_size"),
			"max_backups": viper.GetInt("audit.options.max_backups"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func createStore() (persist.Store, error) {
	storeType := persist.StoreType(strings.ToLower(viper.GetString("store.type")))
	namespace := viper.GetString("store.namespace")

	switch storeType {
	case persist.StoreTypeMemory:
		log.Printf("WARNING: memory store selected, nothing will outlive this command")
		return persist.NewStore(persist.StoreConfig{Type: storeType}, namespace)

	case persist.StoreTypeFileSystem, "file":
		return persist.NewStore(persist.StoreConfig{
			Type:   persist.StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": viper.GetString("store.path")},
		}, namespace)

	case persist.StoreTypeS3:
		s3Config := s3ConfigFromViper()
		if err := validateS3Config(s3Config); err != nil {
			return nil, fmt.Errorf("invalid S3 configuration: %w", err)
		}
		return persist.NewS3Store(s3Config, namespace)

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: memory, filesystem, s3", storeType)
	}
}

func s3ConfigFromViper() persist.S3Config {
	return persist.S3Config{
		Endpoint:        viper.GetString("store.s3.endpoint"),
		AccessKeyID:     viper.GetString("store.s3.access_key_id"),
		SecretAccessKey: viper.GetString("store.s3.secret_access_key"),
		Bucket:          viper.GetString("store.s3.bucket"),
		KeyPrefix:       viper.GetString("store.s3.prefix"),
		UseSSL:          viper.GetBool("store.s3.use_ssl"),
		Region:          viper.GetString("store.s3.region"),
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

	if config.Endpoint == "" {
		missing = append(missing, "store.s3.endpoint")
	}
	if config.Bucket == "" {
		missing = append(missing, "store.s3.bucket")
	}
	if config.Region == "" {
		missing = append(missing, "store.s3.region")
	}

	hasAccessKey := config.AccessKeyID != ""
	hasSecretKey := config.SecretAccessKey != ""

	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "store.s3.secret_access_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "store.s3.access_key_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// getStoreConfigSummary returns a summary of the current store configuration (for logging/debugging)
func getStoreConfigSummary(storeType string) string {
	switch strings.ToLower(storeType) {
	case "memory":
		return "Memory store: records are discarded when the command exits"
	case "filesystem", "file":
		return fmt.Sprintf("File store: path=%s, namespace=%s",
			viper.GetString("store.path"),
			viper.GetString("store.namespace"))
	case "s3":
		return fmt.Sprintf("S3 store: bucket=%s, region=%s, prefix=%s, namespace=%s",
			viper.GetString("store.s3.bucket"),
			viper.GetString("store.s3.region"),
			viper.GetString("store.s3.prefix"),
			viper.GetString("store.namespace"))
	default:
		return fmt.Sprintf("Unknown store type: %s", storeType)
	}
}

// isSensitiveFlag reports whether a flag or variable name may carry
// credential material and must be redacted in output and audit events.
func isSensitiveFlag(name string) bool {
	sensitive := []string{"passphrase", "password", "secret", "token", "access-key", "access_key"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// getCurrentUser retrieves the username of the currently logged-in user.
// It returns "unknown_user" if the user cannot be determined.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		log.Printf("WARNING: could not get current user: %v, falling back to $USER", err)
		if envUser := os.Getenv("USER"); envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// generateSessionID creates a new unique session identifier.
func generateSessionID() string {
	return uuid.New().String()
}

// getHostname retrieves the hostname of the machine.
// It returns "unknown_host" if the hostname cannot be determined.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("WARNING: could not get hostname: %v", err)
		return "unknown_host"
	}
	return hostname
}

var debugConfigCmd = &cobra.Command{
	Use:   "debug-config",
	Short: "Show current configuration values",
	Long:  "Display the current configuration values read from files, environment variables, and defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Configuration Debug Information\n")
		fmt.Printf("==============================\n\n")

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Printf("Config file: none found\n")
		}

		fmt.Printf("\nEnvironment Variables (TETHER_* prefix):\n")
		for _, env := range os.Environ() {
			if !strings.HasPrefix(env, "TETHER_") {
				continue
			}
			parts := strings.SplitN(env, "=", 2)
			if len(parts) != 2 {
				continue
			}
			if isSensitiveFlag(parts[0]) {
				fmt.Printf("  %s=***REDACTED***\n", parts[0])
			} else {
				fmt.Printf("  %s=%s\n", parts[0], parts[1])
			}
		}

		storeType := viper.GetString("store.type")

		fmt.Printf("\nStore Configuration:\n")
		fmt.Printf("  Type: %s\n", storeType)
		fmt.Printf("  Path: %s\n", viper.GetString("store.path"))
		fmt.Printf("  Namespace: %s\n", viper.GetString("store.namespace"))

		fmt.Printf("\nVault Configuration:\n")
		fmt.Printf("  Algorithm: %s\n", viper.GetString("vault.algorithm"))
		fmt.Printf("  KDF Iterations: %d\n", viper.GetInt("vault.kdf_iterations"))
		fmt.Printf("  Envelope Key: %s\n", orDefault(viper.GetString("vault.envelope_key")))
		fmt.Printf("  Legacy Key: %s\n", orDefault(viper.GetString("vault.legacy_key")))
		fmt.Printf("  Memory Lock: %v\n", viper.GetBool("vault.memory_lock"))

		fmt.Printf("\nAudit Configuration:\n")
		fmt.Printf("  Enabled: %v\n", viper.GetBool("audit.enabled"))
		fmt.Printf("  Type: %s\n", viper.GetString("audit.type"))
		fmt.Printf("  File Path: %s\n", viper.GetString("audit.options.file_path"))
		fmt.Printf("  Level: %s\n", viper.GetString("audit.log_level"))

		if strings.ToLower(storeType) == "s3" {
			fmt.Printf("\nS3 Configuration:\n")
			fmt.Printf("  Endpoint: %s\n", viper.GetString("store.s3.endpoint"))
			fmt.Printf("  Region: %s\n", viper.GetString("store.s3.region"))
			fmt.Printf("  Bucket: %s\n", viper.GetString("store.s3.bucket"))
			fmt.Printf("  Prefix: %s\n", viper.GetString("store.s3.prefix"))
			fmt.Printf("  Use SSL: %v\n", viper.GetBool("store.s3.use_ssl"))
			fmt.Printf("  Access Key: %s\n", setOrNot(viper.GetString("store.s3.access_key_id")))
			fmt.Printf("  Secret Key: %s\n", setOrNot(viper.GetString("store.s3.secret_access_key")))
		}

		fmt.Printf("\nStore Configuration Summary:\n")
		fmt.Printf("  %s\n", getStoreConfigSummary(storeType))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugConfigCmd)
}

func orDefault(value string) string {
	if value == "" {
		return "(default)"
	}
	return value
}

func setOrNot(value string) string {
	if value != "" {
		return "***SET***"
	}
	return "***NOT SET***"
}

func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	if auditLogger == nil || cliContext == nil {
		return now
	}
	err := auditLogger.Log("command_start", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       sanitizeArgs(args),
		"flags":      sanitizeFlags(cmd),
		"user_id":    cliContext.UserID,
		"session_id": cliContext.SessionID,
		"source":     cliContext.Source,
	})
	if err != nil {
		log.Printf("ERROR: %v\n", err)
	}
	return now
}

func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) error {
	if auditLogger == nil || cliContext == nil {
		return err
	}
	logErr := auditLogger.Log("command_complete", err == nil, map[string]interface{}{
		"command":     cmd.CommandPath(),
		"duration_ms": time.Since(startedTime).Milliseconds(),
		"error":       formatError(err),
		"user_id":     cliContext.UserID,
		"session_id":  cliContext.SessionID,
		"source":      cliContext.Source,
	})
	if logErr != nil {
		log.Printf("ERROR: %v\n", logErr)
	}
	return err
}

// commandContext bounds a single vault operation issued by the CLI
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, 30*time.Second)
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	var messages []string

	for err != nil {
		messages = append(messages, err.Error())
		err = errors.Unwrap(err)
	}

	if len(messages) > 1 {
		uniqueMessages := make([]string, 0, len(messages))
		seen := make(map[string]bool)

		for _, msg := range messages {
			if !seen[msg] {
				uniqueMessages = append(uniqueMessages, msg)
				seen[msg] = true
			}
		}

		if len(uniqueMessages) > 1 {
			return fmt.Sprintf("Error: %s (caused by: %s)",
				uniqueMessages[0],
				strings.Join(uniqueMessages[1:], " -> "))
		}
	}

	message := messages[0]

	if len(message) > 0 {
		first := string(message[0])
		if first != strings.ToUpper(first) {
			message = strings.ToUpper(first) + message[1:]
		}
	}

	return fmt.Sprintf("Error: %s", message)
}

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			if isSensitiveFlag(flag.Name) {
				flags[flag.Name] = "[REDACTED]"
			} else {
				flags[flag.Name] = flag.Value.String()
			}
		}
	})
	return flags
}

func sanitizeArgs(args []string) []string {
	sanitized := make([]string, len(args))
	for i, arg := range args {
		if containsSensitiveData(arg) {
			sanitized[i] = "[REDACTED]"
		} else {
			sanitized[i] = arg
		}
	}
	return sanitized
}

// credentialPrefixes are the leading characters of common API key formats
var credentialPrefixes = []string{"AIza", "sk-", "ghp_", "gho_", "xoxb-", "xoxp-", "AKIA", "ya29."}

// containsSensitiveData reports whether arg looks like a credential: a known
// API key prefix, or a long token without whitespace mixing letters and digits.
func containsSensitiveData(arg string) bool {
	for _, prefix := range credentialPrefixes {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}

	if len(arg) < 20 || strings.ContainsAny(arg, " \t\n/") {
		return false
	}

	var letters, digits bool
	for _, r := range arg {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letters = true
		}
	}
	return letters && digits
}
