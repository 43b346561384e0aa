package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/kafka"
)

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	var rec domain.PracticeRecord

	cmd := &cobra.Command{
		Use:   "publish <user-id>",
		Short: "Publish one practice record to the ingestion topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec.UserID = args[0]
			if err := rec.Validate(); err != nil {
				return err
			}

			publisher, closeEnv, err := openPublisher(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeEnv()

			if err := publisher.Publish(rec); err != nil {
				return err
			}
			return writeResult(rootOpts, cmd.OutOrStdout(), rec, func(w io.Writer) {
				fmt.Fprintf(w, "published %s: %.2fs, rate %.2f, attempts %.2f\n",
					rec.UserID, rec.ElapsedSeconds, rec.SuccessRate, rec.AvgAttempts)
			})
		},
	}

	cmd.Flags().Float64Var(&rec.ElapsedSeconds, "elapsed", 0, "elapsed seconds (required, > 0)")
	cmd.Flags().Float64Var(&rec.SuccessRate, "rate", 1, "success rate in [0, 1]")
	cmd.Flags().Float64Var(&rec.AvgAttempts, "attempts", 1, "average attempts (> 0)")

	return cmd
}

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	Users    int
	Rate     int
	Duration time.Duration
	Seed     int64
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish a stream of generated practice records",
		Long: `Publish generated practice records at a fixed rate for load testing.

A small group of strong users submits most of the records so the top of
the ranking keeps moving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Users < 1 || opts.Rate < 1 {
				return fmt.Errorf("--users and --rate must be positive")
			}

			publisher, closeEnv, err := openPublisher(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer closeEnv()

			ctx := cmd.Context()
			if opts.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Duration)
				defer cancel()
			}

			sent, failed := runSimulation(ctx, publisher, opts, cmd.ErrOrStderr())
			result := map[string]int{"sent": sent, "failed": failed}
			return writeResult(rootOpts, cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "sent %d records, %d failed\n", sent, failed)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Users, "users", 1000, "number of distinct users")
	cmd.Flags().IntVar(&opts.Rate, "rate", 100, "records per second")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "how long to run (0 = until interrupted)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "random seed")

	return cmd
}

type recordPublisher interface {
	Publish(rec domain.PracticeRecord) error
}

func runSimulation(ctx context.Context, publisher recordPublisher, opts *SimulateOptions, progress io.Writer) (sent, failed int) {
	rng := rand.New(rand.NewSource(opts.Seed))

	ticker := time.NewTicker(time.Second / time.Duration(opts.Rate))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sent, failed
		case <-ticker.C:
			if err := publisher.Publish(simulatedRecord(rng, opts.Users)); err != nil {
				failed++
				continue
			}
			sent++
		case <-statsTicker.C:
			fmt.Fprintf(progress, "[%s] sent: %d | failed: %d\n", time.Now().Format("15:04:05"), sent, failed)
		}
	}
}

// simulatedRecord draws a record; 70% of draws come from the 20 strongest users.
func simulatedRecord(rng *rand.Rand, users int) domain.PracticeRecord {
	idx := rng.Intn(users)
	if users > 20 && rng.Intn(100) < 70 {
		idx = rng.Intn(20)
	}

	// Strong users finish faster
	base := 60.0
	if idx < 20 {
		base = 30.0
	}

	return domain.PracticeRecord{
		UserID:         fmt.Sprintf("user-%04d", idx),
		ElapsedSeconds: base + rng.Float64()*base,
		SuccessRate:    0.5 + rng.Float64()*0.5,
		AvgAttempts:    1 + rng.Float64()*2,
	}
}

func openPublisher(opts *RootOptions, cmd *cobra.Command) (*kafka.Publisher, func(), error) {
	env, err := openEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	publisher, err := kafka.NewPublisher(&env.cfg.Kafka, env.logger)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			env.logger.Error("failed to close publisher", "error", err)
		}
	}, nil
}
