// Package commands implements the relayctl operator CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	relayURL string
	token    string
)

func Execute() error {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Operator tooling for the message relay",
	}

	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay base URL")
	root.PersistentFlags().StringVar(&token, "token", "", "privileged bearer token (or RELAY_TOKEN)")

	root.AddCommand(tokenCmd(), clientsCmd(), messagesCmd(), publishCmd())
	return root.Execute()
}
