package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"edgerelay/internal/client/api"
)

// messages <client-id> [--cursor N]: read a client's stored messages,
// decrypted server-side.
func messagesCmd() *cobra.Command {
	var cursor int64

	cmd := &cobra.Command{
		Use:   "messages <client-id>",
		Short: "Read a client's messages, decrypted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bearer, err := privilegedToken()
			if err != nil {
				return err
			}

			var after *int64
			if cmd.Flags().Changed("cursor") {
				after = &cursor
			}

			messages, err := api.NewOperator(relayURL, bearer).ClientMessages(cmd.Context(), args[0], after)
			if err != nil {
				return err
			}

			for _, m := range messages {
				from := "server"
				if m.FromClientID != nil {
					from = *m.FromClientID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\t%s\n",
					m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Type, from, string(m.Payload))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&cursor, "cursor", 0, "only show messages with id greater than this")
	return cmd
}
