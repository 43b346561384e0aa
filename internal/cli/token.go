package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/practice-ranking/internal/auth"
)

// TokenResult is a freshly signed bearer token.
type TokenResult struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for the admin API",
		Long: `Sign an HS256 bearer token for a user with auth.jwt_secret. The admin
routes also require the user to hold the admin claim:

  rankctl claim set <user-id> admin true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			now := time.Now()
			raw, err := auth.Issue(cfg.Auth.JWTSecret, args[0], ttl, now)
			if err != nil {
				return err
			}

			result := TokenResult{UserID: args[0], Token: raw, ExpiresAt: now.Add(ttl).UTC().Truncate(time.Second)}
			return writeResult(rootOpts, cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintln(w, raw)
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")

	return cmd
}
