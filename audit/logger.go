package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config defines audit logging configuration
type Config struct {
	Enabled   bool                   `json:"enabled" yaml:"enabled"`
	Namespace string                 `json:"namespace" yaml:"namespace"`
	Type      ConfigType             `json:"type" yaml:"type"`       // "file", "syslog" or empty for no-op
	Options   map[string]interface{} `json:"options" yaml:"options"` // Provider-specific options
	LogLevel  string                 `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Actions recorded by the vault
const (
	ActionSecretStore       = "secret_store"
	ActionSecretLoad        = "secret_load"
	ActionSecretMigrate     = "secret_migrate"
	ActionSecretClear       = "secret_clear"
	ActionEnvelopeDiscarded = "envelope_discarded"
	ActionInsecureFallback  = "insecure_fallback"
	ActionKeyDerive         = "key_derive"
)

// Logger interface for pluggable audit implementations
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents an audit log event. It never carries secret material:
// callers pass storage keys and error strings only.
type Event struct {
	ID         string                 `json:"id"`
	RequestID  string                 `json:"request_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Namespace  string                 `json:"namespace"`
	Action     string                 `json:"action"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	StorageKey string                 `json:"storage_key,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Source     string                 `json:"source,omitempty"` // IP, hostname, etc.
	SessionID  string                 `json:"session_id,omitempty"`
	Command    string                 `json:"command,omitempty"`
	Duration   int64                  `json:"duration_ms,omitempty"`
}

// QueryOptions for filtering audit logs
type QueryOptions struct {
	Namespace        string
	Since            *time.Time
	Until            *time.Time
	Action           string
	Success          *bool // nil = all, true = only success, false = only failures
	StorageKey       string
	Limit            int
	Offset           int
	SecurityRelevant bool // only fallback, discard and migration events
}

// QueryResult contains the results of an audit query
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// newEvent lifts the well known metadata keys into their Event fields and
// keeps the remainder as free-form metadata
func newEvent(namespace, action string, success bool, metadata map[string]interface{}) Event {
	event := Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Namespace: namespace,
		Action:    action,
		Success:   success,
	}

	rest := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch k {
		case "request_id":
			event.RequestID = stringValue(v)
		case "storage_key":
			event.StorageKey = stringValue(v)
		case "error":
			event.Error = stringValue(v)
		case "user_id":
			event.UserID = stringValue(v)
		case "session_id":
			event.SessionID = stringValue(v)
		case "command":
			event.Command = stringValue(v)
		case "source":
			event.Source = stringValue(v)
		case "duration_ms":
			event.Duration = int64Value(v)
		default:
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		event.Metadata = rest
	}
	return event
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case error:
		return s.Error()
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func int64Value(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case time.Duration:
		return n.Milliseconds()
	default:
		return 0
	}
}

// isSecurityCriticalAction reports actions that mean the secret was, or
// might have been, stored or dropped outside the encrypted path
func isSecurityCriticalAction(action string) bool {
	securityActions := map[string]bool{
		ActionInsecureFallback:  true,
		ActionEnvelopeDiscarded: true,
		ActionSecretMigrate:     true,
		ActionSecretClear:       true,
	}
	return securityActions[action]
}

// parseOptions converts map[string]interface{} to specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	// Convert to JSON and back to parse into struct
	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}

// generateEventID creates a unique event ID
func generateEventID() string {
	return fmt.Sprintf("%d_%d", time.Now().UnixNano(), os.Getpid())
}
