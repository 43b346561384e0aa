package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/service"
)

// NewGrantCommand creates the grant command.
func NewGrantCommand(rootOpts *RootOptions) *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Run a badge grant cycle",
		Long: `Run the monthly badge grant cycle against the database.

Without --period the cycle closes the month before the current one, exactly
as the scheduled run does. Re-running a cycle is safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrant(cmd.Context(), rootOpts, period, cmd)
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", "", "period to close (YYYY-MM)")

	return cmd
}

func runGrant(ctx context.Context, opts *RootOptions, period string, cmd *cobra.Command) error {
	var target *domain.Period
	if period != "" {
		p, err := domain.ParsePeriod(period)
		if err != nil {
			return err
		}
		target = &p
	}

	env, err := openEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()
	if err := env.withPostgres(ctx); err != nil {
		return err
	}

	granter := service.NewBadgeGranter(env.repo, env.cfg.Ranking.TopN, env.offset, env.logger)

	var result *service.GrantResult
	if target == nil {
		result, err = granter.GrantPrevious(ctx)
	} else {
		result, err = granter.GrantFor(ctx, *target)
	}
	if err != nil {
		return err
	}

	return writeResult(opts, cmd.OutOrStdout(), result, func(w io.Writer) {
		if result.Skipped {
			fmt.Fprintf(w, "%s: no entries, nothing granted\n", result.Period)
			return
		}
		fmt.Fprintf(w, "%s: %d entries, %d badges granted, %d revoked, %d summaries cleared\n",
			result.Period, result.Entries, result.Granted, result.Revoked, result.SummariesCleared)
	})
}
