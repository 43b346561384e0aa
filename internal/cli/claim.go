package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/practice-ranking/internal/service"
)

// NewClaimCommand creates the claim command group.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Manage custom auth claims",
	}

	cmd.AddCommand(newClaimSetCommand(rootOpts))
	cmd.AddCommand(newClaimGetCommand(rootOpts))

	return cmd
}

func newClaimSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <user-id> <key> <value>",
		Short: "Set one custom claim",
		Long: `Set one custom claim on a user. The value is stored as JSON when it
parses as JSON (true, 12, {"a":1}) and as a plain string otherwise.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.withPostgres(cmd.Context()); err != nil {
				return err
			}

			accounts := service.NewAccountService(env.repo, env.repo, env.logger)
			value := parseClaimValue(args[2])
			if err := accounts.SetClaim(cmd.Context(), args[0], args[1], value); err != nil {
				return err
			}

			result := map[string]any{"user_id": args[0], "key": args[1], "value": value}
			return writeResult(rootOpts, cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "set %s=%v for %s\n", args[1], value, args[0])
			})
		},
	}
}

func newClaimGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>",
		Short: "List the custom claims of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.withPostgres(cmd.Context()); err != nil {
				return err
			}

			accounts := service.NewAccountService(env.repo, env.repo, env.logger)
			claims, err := accounts.Claims(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return writeResult(rootOpts, cmd.OutOrStdout(), claims, func(w io.Writer) {
				keys := make([]string, 0, len(claims))
				for k := range claims {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "%s=%v\n", k, claims[k])
				}
			})
		},
	}
}

// parseClaimValue decodes raw as JSON, keeping it as a string if it is not valid JSON.
func parseClaimValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}
