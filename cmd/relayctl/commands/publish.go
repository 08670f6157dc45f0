package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"edgerelay/internal/client/api"
)

// publish --type t --payload '{"x":1}' <client-id>...: queue a message for
// the given recipients.
func publishCmd() *cobra.Command {
	var msgType string
	var payload string

	cmd := &cobra.Command{
		Use:   "publish <client-id>...",
		Short: "Publish a message to one or more clients",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bearer, err := privilegedToken()
			if err != nil {
				return err
			}

			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload must be valid JSON")
			}

			queued, err := api.NewOperator(relayURL, bearer).Publish(cmd.Context(), args, msgType, json.RawMessage(payload))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued for %d recipient(s)\n", queued)
			return nil
		},
	}

	cmd.Flags().StringVar(&msgType, "type", "event", "message type")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	return cmd
}
