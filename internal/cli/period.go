package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/worker"
)

// PeriodReport describes the ranking periods around an instant.
type PeriodReport struct {
	At          time.Time `json:"at"`
	Current     string    `json:"current"`
	Previous    string    `json:"previous"`
	BadgePrefix string    `json:"badge_prefix"`
	NextGrant   time.Time `json:"next_grant"`
}

// NewPeriodCommand creates the period command.
func NewPeriodCommand(rootOpts *RootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "period",
		Short: "Show the ranking period for an instant",
		Long: `Show the open ranking period, the period the next grant cycle
closes and when that cycle fires, for now or the instant given by --at.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, offset, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("parsing --at: %w", err)
				}
			}

			report := buildPeriodReport(now, offset, cfg.Schedule.GrantHour, cfg.Schedule.GrantMinute)
			return writeResult(rootOpts, cmd.OutOrStdout(), report, func(w io.Writer) {
				fmt.Fprintf(w, "current:      %s\n", report.Current)
				fmt.Fprintf(w, "previous:     %s\n", report.Previous)
				fmt.Fprintf(w, "badge prefix: %s\n", report.BadgePrefix)
				fmt.Fprintf(w, "next grant:   %s\n", report.NextGrant.Format(time.RFC3339))
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "instant to evaluate (RFC3339, default now)")

	return cmd
}

func buildPeriodReport(at time.Time, offset time.Duration, hour, minute int) PeriodReport {
	current := domain.PeriodOf(at, offset)
	return PeriodReport{
		At:          at,
		Current:     current.ID(),
		Previous:    current.Previous().ID(),
		BadgePrefix: current.Previous().BadgePrefix(),
		NextGrant:   worker.NextMonthlyRun(at, offset, hour, minute).UTC(),
	}
}
