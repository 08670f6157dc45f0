package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"edgerelay/internal/common"
	"edgerelay/internal/server/auth"
)

// readSecret is a test seam for term.ReadPassword.
var readSecret = term.ReadPassword

// token --role operator|publisher [--validity 12h]: mint a privileged JWT.
// The master secret is prompted without echo so it never lands in shell
// history or process listings.
func tokenCmd() *cobra.Command {
	var role string
	var validity time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a privileged bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleOperator && role != auth.RolePublisher {
				return fmt.Errorf("role must be %q or %q", auth.RoleOperator, auth.RolePublisher)
			}

			fmt.Fprint(cmd.OutOrStdout(), "Master secret: ")
			secret, err := readSecret(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer common.WipeByteArray(secret)

			minted, err := auth.GenerateToken(role, auth.SigningKey(string(secret)), validity)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), minted)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "token role (operator or publisher)")
	cmd.Flags().DurationVar(&validity, "validity", 12*time.Hour, "token lifetime")
	return cmd
}
