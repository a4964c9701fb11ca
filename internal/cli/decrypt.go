package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pulsewatch/internal/envelope"
)

// NewDecryptCommand creates the decrypt command.
func NewDecryptCommand(rootOpts *RootOptions) *cobra.Command {
	var secret string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "decrypt [file]",
		Short: "Decrypt a saved upstream response",
		Long: `Decrypt an encrypted response body ({"ct","iv","s"}) read from a file,
or from stdin when no file is given, and print the plaintext.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, _, err := loadConfig(rootOpts, cmd)
				if err != nil {
					return err
				}
				secret = cfg.Upstream.Secret
			}

			var data []byte
			var err error
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return WrapExitError(ExitUsage, "failed to read input", err)
			}

			env, err := envelope.ParseWire(data)
			if err != nil {
				return WrapExitError(ExitFailure, "invalid envelope", err)
			}
			plaintext, err := envelope.Decrypt(env, []byte(secret))
			if err != nil {
				return WrapExitError(ExitFailure, "decryption failed", err)
			}

			if pretty {
				var buf bytes.Buffer
				if err := json.Indent(&buf, plaintext, "", "  "); err == nil {
					plaintext = buf.Bytes()
				}
			}
			out := cmd.OutOrStdout()
			out.Write(plaintext)
			io.WriteString(out, "\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "passphrase (default: upstream.secret from config)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON plaintext")
	return cmd
}
