package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/scanner"
	"github.com/forgekit/forged/internal/store"
	"github.com/forgekit/forged/internal/types"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Scan task history and show learned behavioral patterns",
	Long: `Run a one-shot pattern scan over task history, user corrections, and
stored performance metrics, then print the top patterns by frequency.

The scan also persists patterns to the learning store, merging duplicates
into higher-frequency entries.`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := context.Background()

		st := store.New(filepath.Join(cfg.ForgeDir, "learning.db"))
		if err := st.Initialize(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		scanCfg := scanner.DefaultConfig(cfg.ForgeDir)
		scanCfg.MinConfidence = cfg.Scanner.MinConfidence
		scanCfg.MinFrequency = cfg.Scanner.MinFrequency
		scanCfg.MaxAgeDays = cfg.Scanner.MaxAgeDays

		patterns, err := scanner.New(scanCfg, st).Scan(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := st.StorePatterns(ctx, patterns); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store patterns: %v\n", err)
			os.Exit(1)
		}

		if len(patterns) == 0 {
			fmt.Println("no patterns found")
			return
		}

		successes, failures := 0, 0
		for _, p := range patterns {
			if p.Outcome == types.OutcomeSuccess {
				successes++
			} else {
				failures++
			}
		}
		fmt.Printf("%d patterns (%s, %s)\n\n",
			len(patterns),
			color.GreenString("%d success", successes),
			color.RedString("%d failure", failures))

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		for i, p := range patterns {
			if limit > 0 && i >= limit {
				fmt.Printf("... and %d more\n", len(patterns)-limit)
				break
			}
			outcome := green(p.Outcome)
			if p.Outcome == types.OutcomeFailure {
				outcome = red(p.Outcome)
			}
			fmt.Printf("%-8s ×%-4d conf %.2f  %s → %s\n", outcome, p.Frequency, p.Confidence, p.Context, p.Action)
		}
	},
}

func init() {
	patternsCmd.Flags().Int("limit", 20, "maximum patterns to display (0 = all)")
	rootCmd.AddCommand(patternsCmd)
}
