package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"southwinds.dev/tether"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Show the device fingerprint",
	Long: `Display the attributes the device key is derived from and the resulting
fingerprint. If any attribute changes, envelopes written before the change can
no longer be decrypted. The derived key itself is never shown.`,
	RunE: showFingerprint,
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
}

func showFingerprint(cmd *cobra.Command, args []string) (err error) {
	start := auditCmdStart(cmd, args)
	defer func() { err = auditCmdComplete(cmd, err, start) }()

	env := tether.NewHostEnvironment()
	width, height := env.ScreenSize()

	fmt.Println("Device Fingerprint")
	fmt.Println("==================")
	fmt.Printf("User Agent: %s\n", env.UserAgent())
	fmt.Printf("Language: %s\n", orUnknown(env.Language()))
	fmt.Printf("Colour Depth: %d\n", env.ColorDepth())
	fmt.Printf("Screen: %dx%d\n", width, height)
	fmt.Printf("Timezone Offset: %d minutes\n", env.TimezoneOffset())
	fmt.Printf("Fingerprint: %s\n", vaultSvc.Fingerprint())

	return nil
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
