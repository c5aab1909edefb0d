package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/daemon"
	"github.com/forgekit/forged/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a daemon is running for this forge directory",
	Run: func(cmd *cobra.Command, args []string) {
		state, err := daemon.ReadStateFile(cfg.ForgeDir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println(color.YellowString("no daemon running") + " (no state file in " + cfg.ForgeDir + ")")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		uptime := time.Since(state.StartedAt).Round(time.Second)
		fmt.Printf("%s  pid %d on %s\n", color.GreenString("daemon running"), state.PID, state.Hostname)
		fmt.Printf("  started: %s (up %s)\n", state.StartedAt.Format(time.RFC3339), uptime)
		fmt.Printf("  forge dir: %s\n", state.ForgeDir)

		printStoreStats(cfg.ForgeDir)
	},
}

// printStoreStats reports learning store counts. WAL mode allows this reader
// alongside the daemon's writer. Failures are non-fatal; status still served
// its main purpose.
func printStoreStats(forgeDir string) {
	dbPath := filepath.Join(forgeDir, "learning.db")
	if _, err := os.Stat(dbPath); err != nil {
		return
	}

	ctx := context.Background()
	st := store.New(dbPath)
	if err := st.Initialize(ctx); err != nil {
		return
	}
	defer st.Close()

	stats, err := st.GetStats(ctx)
	if err != nil {
		return
	}
	fmt.Printf("  store: %d patterns, %d metrics, %d pending updates, %d suggestions, %d health events\n",
		stats.Patterns, stats.Metrics, stats.PendingUpdates, stats.Suggestions, stats.HealthEvents)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
