package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tale-download-api/internal/service"
	"github.com/noah-isme/tale-download-api/pkg/config"
)

func newTokenCommand(a *app) *cobra.Command {
	var (
		userID string
		email  string
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.Secret == "" {
				return errors.New("JWT_SECRET is not configured")
			}
			auth := service.NewAuthService(service.AuthConfig{Secret: cfg.Auth.Secret, TokenTTL: ttl}, a.log())
			token, expiresAt, err := auth.IssueToken(userID, email, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the token")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 8h)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
