package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"southwinds.dev/tether/audit"
)

var (
	auditJsonOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditStorageKey    string
	auditLimit         int
	auditOffset        int
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and analyze audit logs",
	Long: `Query and analyze the audit trail of the current namespace.

Requires a file audit logger (--audit --audit-type file); syslog events are
written to the system log and cannot be queried back.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit logs with filters",
	Long: `Query audit logs with various filtering options.

Examples:
  # All events
  tether audit query

  # Failed loads in January
  tether audit query --action secret_load --success false \
    --since "2025-01-01T00:00:00Z" --until "2025-01-31T23:59:59Z"`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	RunE:  runAuditFailures,
}

var auditSecurityCmd = &cobra.Command{
	Use:   "security",
	Short: "Show security relevant events",
	Long: `Show insecure fallbacks, discarded envelopes, migrations and clears.

A discarded envelope usually means the device fingerprint changed since the
credential was stored.`,
	RunE: runAuditSecurity,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit statistics",
	RunE:  runAuditStats,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditSecurityCmd)
	auditCmd.AddCommand(auditStatsCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJsonOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "Show detailed event information")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
	auditQueryCmd.Flags().StringVar(&auditStorageKey, "storage-key", "", "Filter by storage key")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	return queryAndDisplay(options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	failed := false
	options.Success = &failed
	return queryAndDisplay(options)
}

func runAuditSecurity(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.SecurityRelevant = true
	return queryAndDisplay(options)
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	// statistics cover every matching event, not a page
	options.Limit = 0
	options.Offset = 0

	result, err := queryAudit(options)
	if err != nil {
		return err
	}

	stats := calculateAuditStats(result.Events, options.Namespace)
	if auditJsonOutput {
		return writeJSON(os.Stdout, stats)
	}
	return displayAuditStats(os.Stdout, stats)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Namespace:  viper.GetString("store.namespace"),
		Action:     auditAction,
		StorageKey: auditStorageKey,
		Limit:      auditLimit,
		Offset:     auditOffset,
	}

	if auditSince != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &parsedTime
	}

	if auditUntil != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &parsedTime
	}

	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter format: %w", err)
		}
		options.Success = &success
	}

	return options, nil
}

func queryAudit(options audit.QueryOptions) (audit.QueryResult, error) {
	if !viper.GetBool("audit.enabled") {
		fmt.Fprintln(os.Stderr, "WARNING: audit logging is disabled, enable it with --audit or audit.enabled")
	}
	result, err := auditLogger.Query(options)
	if err != nil {
		return result, fmt.Errorf("failed to query audit log: %w", err)
	}
	return result, nil
}

func queryAndDisplay(options audit.QueryOptions) error {
	result, err := queryAudit(options)
	if err != nil {
		return err
	}

	if auditJsonOutput {
		return writeJSON(os.Stdout, result)
	}

	if err = displayAuditEvents(os.Stdout, result.Events); err != nil {
		return err
	}
	if result.HasMore {
		fmt.Printf("\nShowing %d of %d events, use --offset %d for more\n",
			len(result.Events), result.Filtered, options.Offset+len(result.Events))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func displayAuditEvents(out io.Writer, events []audit.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if auditDetails {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Namespace:\t%s\n", event.Namespace)
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)
			fmt.Fprintf(w, "Status:\t%s\n", eventStatus(event))

			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.StorageKey != "" {
				fmt.Fprintf(w, "Storage Key:\t%s\n", event.StorageKey)
			}
			if event.RequestID != "" {
				fmt.Fprintf(w, "Request ID:\t%s\n", event.RequestID)
			}
			if event.UserID != "" {
				fmt.Fprintf(w, "User ID:\t%s\n", event.UserID)
			}
			if event.Source != "" {
				fmt.Fprintf(w, "Source:\t%s\n", event.Source)
			}

			if len(event.Metadata) > 0 {
				fmt.Fprintf(w, "Metadata:\t")
				keys := make([]string, 0, len(event.Metadata))
				for k := range event.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "%s=%v ", k, event.Metadata[k])
				}
				fmt.Fprintf(w, "\n")
			}

			fmt.Fprintf(w, "────────────────────────────────────────\n")
		}
	} else {
		fmt.Fprintf(w, "TIMESTAMP\tACTION\tSTATUS\tSTORAGE KEY\tERROR\n")

		for _, event := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.Action,
				eventStatus(event),
				truncate(event.StorageKey, 24),
				truncate(event.Error, 30))
		}
	}

	return w.Flush()
}

func eventStatus(event audit.Event) string {
	if event.Success {
		return "SUCCESS"
	}
	return "FAILED"
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// AuditStats summarises the audit trail of one namespace
type AuditStats struct {
	Namespace          string         `json:"namespace"`
	GeneratedAt        time.Time      `json:"generated_at"`
	TimeRange          string         `json:"time_range"`
	TotalEvents        int            `json:"total_events"`
	SuccessfulEvents   int            `json:"successful_events"`
	FailedEvents       int            `json:"failed_events"`
	SuccessRate        float64        `json:"success_rate"`
	ActionBreakdown    map[string]int `json:"action_breakdown"`
	DailyDistribution  map[string]int `json:"daily_distribution"`
	TopFailedActions   []ActionCount  `json:"top_failed_actions"`
	Migrations         int            `json:"migrations"`
	DiscardedEnvelopes int            `json:"discarded_envelopes"`
	InsecureFallbacks  int            `json:"insecure_fallbacks"`
	FirstEvent         *time.Time     `json:"first_event,omitempty"`
	LastEvent          *time.Time     `json:"last_event,omitempty"`
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

func calculateAuditStats(events []audit.Event, namespace string) AuditStats {
	stats := AuditStats{
		Namespace:         namespace,
		GeneratedAt:       time.Now().UTC(),
		ActionBreakdown:   make(map[string]int),
		DailyDistribution: make(map[string]int),
	}

	if len(events) == 0 {
		return stats
	}

	stats.TotalEvents = len(events)
	failedActions := make(map[string]int)

	for i := range events {
		event := events[i]

		if event.Success {
			stats.SuccessfulEvents++
		} else {
			stats.FailedEvents++
			failedActions[event.Action]++
		}

		stats.ActionBreakdown[event.Action]++
		stats.DailyDistribution[event.Timestamp.Format("2006-01-02")]++

		switch event.Action {
		case audit.ActionSecretMigrate:
			if event.Success {
				stats.Migrations++
			}
		case audit.ActionEnvelopeDiscarded:
			stats.DiscardedEnvelopes++
		case audit.ActionInsecureFallback:
			stats.InsecureFallbacks++
		}

		ts := events[i].Timestamp
		if stats.FirstEvent == nil || ts.Before(*stats.FirstEvent) {
			stats.FirstEvent = &events[i].Timestamp
		}
		if stats.LastEvent == nil || ts.After(*stats.LastEvent) {
			stats.LastEvent = &events[i].Timestamp
		}
	}

	stats.SuccessRate = float64(stats.SuccessfulEvents) / float64(stats.TotalEvents) * 100
	stats.TopFailedActions = getTopActions(failedActions, 5)

	if stats.FirstEvent != nil && stats.LastEvent != nil {
		duration := stats.LastEvent.Sub(*stats.FirstEvent)
		stats.TimeRange = fmt.Sprintf("%s (%.1f hours)", duration.String(), duration.Hours())
	}

	return stats
}

func displayAuditStats(out io.Writer, stats AuditStats) error {
	fmt.Fprintf(out, "Audit Statistics for Namespace: %s\n", stats.Namespace)
	fmt.Fprintf(out, "Generated at: %s\n", stats.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")

	fmt.Fprintf(out, "SUMMARY\n")
	fmt.Fprintf(out, "───────\n")
	fmt.Fprintf(out, "Total Events: %d\n", stats.TotalEvents)
	if stats.TotalEvents > 0 {
		fmt.Fprintf(out, "Successful: %d (%.1f%%)\n", stats.SuccessfulEvents, stats.SuccessRate)
		fmt.Fprintf(out, "Failed: %d (%.1f%%)\n", stats.FailedEvents, 100-stats.SuccessRate)
	}
	if stats.TimeRange != "" {
		fmt.Fprintf(out, "Time Range: %s\n", stats.TimeRange)
	}

	fmt.Fprintf(out, "\nSECURITY\n")
	fmt.Fprintf(out, "────────\n")
	fmt.Fprintf(out, "Migrations: %d\n", stats.Migrations)
	fmt.Fprintf(out, "Discarded Envelopes: %d\n", stats.DiscardedEnvelopes)
	fmt.Fprintf(out, "Insecure Fallbacks: %d\n", stats.InsecureFallbacks)

	if len(stats.ActionBreakdown) > 0 {
		fmt.Fprintf(out, "\nTOP ACTIONS\n")
		fmt.Fprintf(out, "───────────\n")
		for _, action := range getTopActions(stats.ActionBreakdown, 10) {
			fmt.Fprintf(out, "  %s: %d\n", action.Action, action.Count)
		}
	}

	if len(stats.TopFailedActions) > 0 {
		fmt.Fprintf(out, "\nTOP FAILED ACTIONS\n")
		fmt.Fprintf(out, "─────────────────\n")
		for _, action := range stats.TopFailedActions {
			fmt.Fprintf(out, "  %s: %d failures\n", action.Action, action.Count)
		}
	}

	return nil
}

// getTopActions orders by count, then by name so ties print deterministically
func getTopActions(actionCounts map[string]int, limit int) []ActionCount {
	actions := make([]ActionCount, 0, len(actionCounts))
	for action, count := range actionCounts {
		actions = append(actions, ActionCount{Action: action, Count: count})
	}

	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Count != actions[j].Count {
			return actions[i].Count > actions[j].Count
		}
		return actions[i].Action < actions[j].Action
	})

	if len(actions) > limit {
		actions = actions[:limit]
	}

	return actions
}
