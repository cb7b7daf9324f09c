package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/brunorijsman/qkd-cascade/pkg/cascade"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/metrics"
)

type reconcileFlags struct {
	keySize     int
	errors      int
	errorRate   float64
	algorithm   string
	keySeed     uint64
	shuffleSeed uint64
	runs        int
	output      string
}

// runResult is one simulated reconciliation.
type runResult struct {
	Run             int           `json:"run"`
	Algorithm       string        `json:"algorithm"`
	KeySize         int           `json:"key_size"`
	ErrorsInjected  int           `json:"errors_injected"`
	ErrorsRemaining int           `json:"errors_remaining"`
	Efficiency      float64       `json:"efficiency"`
	Stats           cascade.Stats `json:"stats"`
}

func newReconcileCommand(global *globalFlags) *cobra.Command {
	flags := &reconcileFlags{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Simulate reconciliation against an in-process Alice",
		Long: `Generate a random key for Alice, copy it for Bob with noise, and reconcile
Bob's copy over an in-process channel. Prints the statistics of each run.`,
		Example: `  cascade reconcile --size 10000 --rate 0.01
  cascade reconcile --size 10000 --errors 50 --algorithm option8 --runs 10 --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if flags.algorithm != "" {
				cfg.Reconcile.Algorithm = flags.algorithm
			}
			if cmd.Flags().Changed("rate") {
				cfg.Reconcile.EstimatedErrorRate = flags.errorRate
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			params, err := cfg.Parameters()
			if err != nil {
				return err
			}
			collector, _, err := setupObservability(cfg, global.tracing, "simulation")
			if err != nil {
				return err
			}
			return runReconcile(cmd.Context(), cmd.OutOrStdout(), flags, params, cfg.Reconcile.EstimatedErrorRate, collector)
		},
	}

	cmd.Flags().IntVar(&flags.keySize, "size", 10000, "Key size in bits")
	cmd.Flags().IntVar(&flags.errors, "errors", -1, "Exact number of errors to inject (default: size * rate)")
	cmd.Flags().Float64Var(&flags.errorRate, "rate", 0.01, "Bit error rate used to inject noise and size blocks")
	cmd.Flags().StringVar(&flags.algorithm, "algorithm", "", "Cascade variation (overrides config)")
	cmd.Flags().Uint64Var(&flags.keySeed, "key-seed", 0, "Seed for Alice's key and the noise (0 = random)")
	cmd.Flags().Uint64Var(&flags.shuffleSeed, "shuffle-seed", 0, "Seed for the shuffles (0 = random)")
	cmd.Flags().IntVar(&flags.runs, "runs", 1, "Number of runs")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "text", "Output format: text or json")
	return cmd
}

func runReconcile(ctx context.Context, out io.Writer, flags *reconcileFlags, params cascade.Parameters,
	rate float64, collector *metrics.Collector) error {
	if flags.keySize < 1 {
		return fmt.Errorf("invalid key size: %d", flags.keySize)
	}
	if flags.runs < 1 {
		return fmt.Errorf("invalid number of runs: %d", flags.runs)
	}
	if flags.output != "text" && flags.output != "json" {
		return fmt.Errorf("invalid output format: %s (use text or json)", flags.output)
	}

	injected := flags.errors
	if injected < 0 {
		injected = int(math.Round(rate * float64(flags.keySize)))
	}
	estimated := rate
	if flags.errors >= 0 {
		estimated = float64(injected) / float64(flags.keySize)
	}

	results := make([]runResult, 0, flags.runs)
	for run := 1; run <= flags.runs; run++ {
		res, err := simulate(ctx, flags, params, run, injected, estimated, collector)
		if err != nil {
			return fmt.Errorf("run %d: %w", run, err)
		}
		results = append(results, res)
	}

	if flags.output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printResults(out, results)
	return nil
}

func simulate(ctx context.Context, flags *reconcileFlags, params cascade.Parameters, run, injected int,
	estimated float64, collector *metrics.Collector) (runResult, error) {
	keySeed := seedFor(flags.keySeed, run)
	obs := metrics.NewReconcileObserver(metrics.ReconcileObserverConfig{
		Collector: collector,
		Algorithm: params.Name,
		SessionID: fmt.Sprintf("run-%d", run),
	})

	session, _, alice, err := cascade.NewMockSession(flags.keySize, keySeed, seedFor(flags.shuffleSeed, run), params,
		cascade.WithObserver(obs))
	if err != nil {
		return runResult{}, err
	}
	bob, err := alice.CopyWithNoise(injected, crypto.NewRand(keySeed+1))
	if err != nil {
		return runResult{}, err
	}
	if _, err := session.CorrectKey(ctx, bob, estimated); err != nil {
		return runResult{}, err
	}

	stats := session.Stats()
	return runResult{
		Run:             run,
		Algorithm:       params.Name,
		KeySize:         flags.keySize,
		ErrorsInjected:  injected,
		ErrorsRemaining: bob.HammingDistance(alice),
		Efficiency:      stats.Efficiency(flags.keySize, float64(injected)/float64(flags.keySize)),
		Stats:           stats,
	}, nil
}

// seedFor derives the seed of a run; a zero base means a fresh random seed.
func seedFor(base uint64, run int) uint64 {
	if base == 0 {
		return crypto.SecureSeed()
	}
	return base + uint64(run-1)*2
}

func printResults(out io.Writer, results []runResult) {
	var queries, efficiency float64
	failed := 0
	for _, r := range results {
		fmt.Fprintf(out, "run %d: %s, %d bits, %d errors injected, %d remaining\n",
			r.Run, r.Algorithm, r.KeySize, r.ErrorsInjected, r.ErrorsRemaining)
		fmt.Fprintf(out, "  passes:           %d\n", r.Stats.Passes)
		fmt.Fprintf(out, "  parity queries:   %d\n", r.Stats.AskParityMessages)
		fmt.Fprintf(out, "  inferred:         %d\n", r.Stats.InferParityBlocks)
		fmt.Fprintf(out, "  bits corrected:   %d\n", r.Stats.BitsCorrected)
		fmt.Fprintf(out, "  blocks created:   %d\n", r.Stats.TotalBlocks())
		fmt.Fprintf(out, "  efficiency:       %.3f\n", r.Efficiency)
		fmt.Fprintf(out, "  elapsed:          %v\n", r.Stats.Elapsed)

		queries += float64(r.Stats.AskParityMessages)
		efficiency += r.Efficiency
		if r.ErrorsRemaining > 0 {
			failed++
		}
	}
	if len(results) > 1 {
		n := float64(len(results))
		fmt.Fprintf(out, "\n%d runs: mean queries %.1f, mean efficiency %.3f, %d with residual errors\n",
			len(results), queries/n, efficiency/n, failed)
	}
}
