package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"edgerelay/internal/client/api"
)

func privilegedToken() (string, error) {
	if token != "" {
		return token, nil
	}
	if env := os.Getenv("RELAY_TOKEN"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no token given (use --token or RELAY_TOKEN)")
}

// clients: list registered clients with liveness and poll cadence.
func clientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			bearer, err := privilegedToken()
			if err != nil {
				return err
			}

			statuses, err := api.NewOperator(relayURL, bearer).ListClients(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLAST SEEN\tINTERVAL")
			for _, s := range statuses {
				lastSeen := "-"
				if s.LastSeenAt != nil {
					lastSeen = s.LastSeenAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%ds\n", s.ID, s.Name, s.Status, lastSeen, s.PollIntervalSeconds)
			}
			return w.Flush()
		},
	}
}
