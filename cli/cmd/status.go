package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"southwinds.dev/tether"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long:  "Display whether encryption is available, which records are stored, and the memory protection level. Nothing is decrypted.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) (err error) {
	start := auditCmdStart(cmd, args)
	defer func() { err = auditCmdComplete(cmd, err, start) }()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	fmt.Println("Vault Status")
	fmt.Println("============")

	if vaultSvc.IsAvailable() {
		fmt.Printf("Encryption: %s %s\n", color.GreenString("✓"), viper.GetString("vault.algorithm"))
	} else {
		fmt.Printf("Encryption: %s unavailable, credentials are stored in plaintext\n", color.RedString("✗"))
	}

	state, err := vaultSvc.State(ctx)
	if err != nil {
		fmt.Printf("Credential: %s %v\n", color.RedString("ERROR"), err)
	} else {
		fmt.Printf("Credential: %s\n", describeState(state))
	}

	fmt.Printf("Memory Protection: %s\n", vaultSvc.SecureMemoryProtection())
	fmt.Printf("Store: %s\n", getStoreConfigSummary(viper.GetString("store.type")))

	return err
}

func describeState(state tether.State) string {
	switch state {
	case tether.StateEncryptedOnly:
		return color.GreenString("encrypted")
	case tether.StatePlaintextOnly:
		return color.YellowString("plaintext") + " (migrated on next load)"
	case tether.StateBoth:
		return color.YellowString("encrypted, plaintext copy pending removal") + " (removed on next store or load)"
	default:
		return color.CyanString("none stored")
	}
}
