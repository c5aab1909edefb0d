package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/analyzer"
	"github.com/forgekit/forged/internal/store"
)

var performanceCmd = &cobra.Command{
	Use:   "performance",
	Short: "Show per-agent performance analysis",
	Long: `Analyze recent agent metrics from the learning store and print a
per-agent breakdown plus a cross-agent summary.

Examples:
  # All agents
  forged performance

  # One agent over the last 7 days
  forged performance --agent claude-sonnet --days 7`,
	Run: func(cmd *cobra.Command, args []string) {
		agentID, _ := cmd.Flags().GetString("agent")
		days, _ := cmd.Flags().GetInt("days")
		ctx := context.Background()

		st := store.New(filepath.Join(cfg.ForgeDir, "learning.db"))
		if err := st.Initialize(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		a := analyzer.New(st)

		if agentID != "" {
			perf, err := a.AnalyzeAgent(ctx, agentID, days)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printAgent(*perf)
			return
		}

		performances, err := a.Analyze(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(performances) == 0 {
			fmt.Println("no agent metrics recorded")
			return
		}

		for _, perf := range performances {
			printAgent(perf)
			fmt.Println()
		}

		summary, err := a.GetSummary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d agents, average success rate %.0f%%\n", summary.TotalAgents, summary.AvgSuccessRate*100)
		if len(summary.TopPerformers) > 0 {
			fmt.Printf("top performers:   %s\n", color.GreenString(strings.Join(summary.TopPerformers, ", ")))
		}
		if len(summary.NeedsAttention) > 0 {
			fmt.Printf("needs attention:  %s\n", color.RedString(strings.Join(summary.NeedsAttention, ", ")))
		}
	},
}

func printAgent(perf analyzer.AgentPerformance) {
	rateStr := fmt.Sprintf("%.0f%%", perf.SuccessRate*100)
	switch {
	case perf.SuccessRate >= 0.85:
		rateStr = color.GreenString(rateStr)
	case perf.SuccessRate < 0.7:
		rateStr = color.RedString(rateStr)
	default:
		rateStr = color.YellowString(rateStr)
	}

	trend := perf.Trend.Direction
	if perf.Trend.ChangePercent != 0 {
		trend = fmt.Sprintf("%s (%+.1f%%)", perf.Trend.Direction, perf.Trend.ChangePercent)
	}

	fmt.Printf("%s: %s success over %d tasks, trend %s\n", perf.AgentID, rateStr, perf.TasksCompleted, trend)
	for _, rec := range perf.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
	if verbose {
		for _, failure := range perf.CommonFailures {
			fmt.Printf("  recurring failure: %s\n", failure)
		}
	}
}

func init() {
	performanceCmd.Flags().String("agent", "", "analyze a single agent")
	performanceCmd.Flags().Int("days", 30, "analysis window in days")
	rootCmd.AddCommand(performanceCmd)
}
