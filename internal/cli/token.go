package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/auth"
)

func NewTokenCmd(e *env) *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a sequencer, prover or admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.NewJWTAuthService(e.cfg.Auth).GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "client identifier")
	cmd.Flags().StringVar(&role, "role", domain.RoleProver, "ADMIN, SEQUENCER or PROVER")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
