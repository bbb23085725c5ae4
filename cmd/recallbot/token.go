package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/recallbot/internal/config"
	"github.com/recallbot/internal/domain"
	jwtinfra "github.com/recallbot/internal/infrastructure/jwt"
)

type tokenOptions struct {
	*rootOptions
	Subject string
	Role    string
	TTL     time.Duration
}

func newTokenCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &tokenOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Role != domain.RoleAdmin && opts.Role != domain.RoleViewer {
				return fmt.Errorf("invalid role %q: must be %s or %s", opts.Role, domain.RoleAdmin, domain.RoleViewer)
			}
			p, err := jwtinfra.NewProvider(config.Load())
			if err != nil {
				return err
			}
			token, err := p.Sign(opts.Subject, opts.Role, opts.TTL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleAdmin, "token role (admin|viewer)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default JWT_EXPIRY_DAYS)")

	return cmd
}
