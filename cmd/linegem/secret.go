package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"linegem/internal/config"
)

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Store credentials in the system keychain",
		Long: `Stores a credential in the system keychain. Reference it from config.json
as "keyring:<account>", e.g. "channelSecret": "keyring:line-secret".`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <account>",
		Short: "Read a secret from stdin and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stderr, "Value for %s: ", args[0])
			value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("read value: %w", err)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("empty value")
			}
			if err := config.SetSecret(args[0], value); err != nil {
				return fmt.Errorf("store secret: %w", err)
			}
			fmt.Fprintf(os.Stderr, "\nStored. Use %q in config.json.\n", config.KeyringPrefix+args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <account>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.DeleteSecret(args[0])
		},
	})

	return cmd
}
