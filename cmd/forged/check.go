package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/health"
	"github.com/forgekit/forged/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run all health checks once and report results",
	Long: `Run every health check once and print a categorized report.

Exits non-zero if any check is critical. No auto-fixes are applied;
use the daemon for automatic remediation.

Examples:
  # Check the default .forge directory
  forged check

  # Check a different data directory
  forged check --forge-dir /var/lib/forge`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		monitor := health.NewMonitor(health.DefaultConfig(cfg.ForgeDir))
		results := monitor.Check(ctx)

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		for _, result := range results {
			var label string
			switch result.Status {
			case types.StatusHealthy:
				label = green("✓ healthy ")
			case types.StatusDegraded:
				label = yellow("! degraded")
			case types.StatusCritical:
				label = red("✗ critical")
			}
			fmt.Printf("%s  %-18s %s\n", label, result.Category, result.Message)

			if verbose {
				for _, action := range result.Actions {
					fmt.Printf("             → [%s] %s\n", action.Type, action.Description)
				}
			}
		}

		if health.HasCritical(results) {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
