package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/practice-ranking/internal/redis"
	"github.com/practice-ranking/internal/service"
)

// NewPresenceCommand creates the presence command group.
func NewPresenceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Inspect and prune the online users registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove users not seen within the stale window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presence, closeEnv, err := openPresence(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeEnv()

			removed, err := presence.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			return writeResult(rootOpts, cmd.OutOrStdout(), map[string]int64{"removed": removed}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d stale users\n", removed)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users currently online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presence, closeEnv, err := openPresence(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeEnv()

			users, err := presence.Online(cmd.Context())
			if err != nil {
				return err
			}
			return writeResult(rootOpts, cmd.OutOrStdout(), users, func(w io.Writer) {
				for _, u := range users {
					fmt.Fprintln(w, u)
				}
			})
		},
	})

	return cmd
}

func openPresence(opts *RootOptions, cmd *cobra.Command) (*service.PresenceService, func(), error) {
	env, err := openEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	if err := env.withRedis(); err != nil {
		env.Close()
		return nil, nil, err
	}
	registry := redis.NewPresenceRegistry(env.redis, env.logger)
	return service.NewPresenceService(registry, env.cfg.Schedule.PresenceStale, env.logger), env.Close, nil
}
