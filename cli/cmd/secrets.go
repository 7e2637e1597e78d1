package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"southwinds.dev/tether"
)

var storeSecretCmd = &cobra.Command{
	Use:   "store",
	Short: "Store the credential",
	Long: `Encrypt the credential with the device key and store it, replacing any
previous one. The value is taken from --secret, from --file ('-' for stdin),
from a hidden prompt when stdin is a terminal, or else from stdin.`,
	Args: cobra.NoArgs,
	RunE: storeSecret,
}

var loadSecretCmd = &cobra.Command{
	Use:   "load",
	Short: "Print the stored credential",
	Long: `Decrypt and print the stored credential. A plaintext record left by an older
installation is returned and migrated to the encrypted format in the same call.
An envelope that can no longer be decrypted on this device is discarded.`,
	Args: cobra.NoArgs,
	RunE: loadSecret,
}

var clearSecretCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored credential",
	Long:  "Delete both the encrypted envelope and any legacy plaintext record.",
	Args:  cobra.NoArgs,
	RunE:  clearSecret,
}

var (
	secretData string
	secretFile string
	outputJSON bool
)

var errNoSecret = errors.New("no credential stored")

func init() {
	rootCmd.AddCommand(storeSecretCmd)
	rootCmd.AddCommand(loadSecretCmd)
	rootCmd.AddCommand(clearSecretCmd)

	storeSecretCmd.Flags().StringVarP(&secretData, "secret", "s", "", "credential value (visible in shell history, prefer the prompt)")
	storeSecretCmd.Flags().StringVarP(&secretFile, "file", "f", "", "read the credential from file (use '-' for stdin)")

	loadSecretCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func storeSecret(cmd *cobra.Command, args []string) (err error) {
	start := auditCmdStart(cmd, args)
	defer func() { err = auditCmdComplete(cmd, err, start) }()

	data, err := readSecretData(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read secret data: %w", err)
	}
	defer memguard.WipeBytes(data)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err = vaultSvc.StoreSecret(ctx, string(data)); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}

	if !vaultSvc.IsAvailable() {
		fmt.Fprintln(os.Stderr, "WARNING: encryption unavailable, the credential was stored in plaintext")
	}
	fmt.Println("Credential stored successfully")
	return nil
}

func loadSecret(cmd *cobra.Command, args []string) (err error) {
	start := auditCmdStart(cmd, args)
	defer func() { err = auditCmdComplete(cmd, err, start) }()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if outputJSON {
		secret, found, loadErr := vaultSvc.LoadSecret(ctx)
		if loadErr != nil {
			return fmt.Errorf("failed to load secret: %w", loadErr)
		}
		return printLoadResultJSON(os.Stdout, secret, found)
	}

	err = vaultSvc.UseSecret(ctx, func(secret []byte) error {
		_, writeErr := fmt.Fprintf(os.Stdout, "%s\n", secret)
		return writeErr
	})
	if errors.Is(err, tether.ErrSecretNotFound) {
		return errNoSecret
	}
	if err != nil {
		return fmt.Errorf("failed to load secret: %w", err)
	}
	return nil
}

func clearSecret(cmd *cobra.Command, args []string) (err error) {
	start := auditCmdStart(cmd, args)
	defer func() { err = auditCmdComplete(cmd, err, start) }()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	vaultSvc.ClearSecret(ctx)
	fmt.Println("Credential cleared")
	return nil
}

func printLoadResultJSON(w io.Writer, secret string, found bool) error {
	result := struct {
		Found  bool   `json:"found"`
		Secret string `json:"secret,omitempty"`
	}{
		Found:  found,
		Secret: secret,
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// readSecretData resolves the credential from the store flags, a hidden
// prompt when stdin is a terminal, or stdin. One trailing line break is removed.
func readSecretData(stdin *os.File) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch {
	case secretData != "":
		data = []byte(secretData)
	case secretFile == "-":
		data, err = io.ReadAll(stdin)
	case secretFile != "":
		data, err = os.ReadFile(secretFile)
	case term.IsTerminal(int(stdin.Fd())):
		data, err = promptSecret(stdin)
	default:
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return nil, err
	}

	data = trimLineBreak(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("credential is empty")
	}
	return data, nil
}

func promptSecret(stdin *os.File) ([]byte, error) {
	fmt.Fprint(os.Stderr, "Credential: ")
	data, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read from terminal: %w", err)
	}
	return data, nil
}

func trimLineBreak(data []byte) []byte {
	data = bytes.TrimSuffix(data, []byte("\n"))
	return bytes.TrimSuffix(data, []byte("\r"))
}
