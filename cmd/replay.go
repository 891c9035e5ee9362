package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/transferwire/internal/replay"
)

func newReplayCommand(c *cli) *cobra.Command {
	cfg := replay.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a seeded transfer window and check pipeline invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := replay.Run(cmd.Context(), cfg, c.log.Named("replay"))
			if err != nil {
				return err
			}
			if err := rep.Render(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("%w: %d", ErrInvariantViolated, len(rep.Violations))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	f.IntVar(&cfg.Sources, "sources", cfg.Sources, "Number of push sources")
	f.IntVar(&cfg.Transfers, "transfers", cfg.Transfers, "Number of simulated transfers")
	f.IntVar(&cfg.Cycles, "cycles", cfg.Cycles, "Number of pipeline cycles")
	f.DurationVar(&cfg.Step, "step", cfg.Step, "Simulated time between cycles")
	f.Float64Var(&cfg.NoiseRate, "noise", cfg.NoiseRate, "Share of non-transfer chatter")
	f.Float64Var(&cfg.ResendRate, "resend", cfg.ResendRate, "Share of signals resent with the same id")
	f.Float64Var(&cfg.GenuineRate, "genuine", cfg.GenuineRate, "Share of transfers that complete")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Poll workers")
	f.StringVarP(&cfg.OutputFile, "output", "o", "", "Write generated signals to this JSON file")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log every cycle")
	return cmd
}
