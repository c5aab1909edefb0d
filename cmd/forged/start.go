package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/daemon"
	"github.com/forgekit/forged/internal/events"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the maintenance daemon until interrupted",
	Long: `Start the maintenance daemon in the foreground.

The daemon runs health checks, pattern scans, performance analysis, and
update application on their configured schedules until SIGINT or SIGTERM.

Examples:
  # Run with configured intervals
  forged start

  # Health check every minute, printing every event
  forged start --interval 1 --verbose`,
	Run: func(cmd *cobra.Command, args []string) {
		intervalMin, _ := cmd.Flags().GetInt("interval")
		if intervalMin > 0 {
			cfg.Intervals.HealthCheck = fmt.Sprintf("%dm", intervalMin)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d := daemon.New(cfg)

		var drained chan struct{}
		if verbose {
			sub := d.Events().Subscribe()
			drained = make(chan struct{})
			go func() {
				defer close(drained)
				for ev := range sub {
					printEvent(ev)
				}
			}()
		}

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("forged daemon running (pid %d), forge dir %s\n", os.Getpid(), cfg.ForgeDir)

		<-ctx.Done()
		fmt.Println("\nshutting down...")

		if err := d.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		d.Events().Close()
		if drained != nil {
			<-drained
		}
	},
}

func printEvent(ev events.Event) {
	switch ev.Type {
	case events.EventTaskStart:
		fmt.Printf("[%s] %s started\n", ev.Timestamp.Format("15:04:05"), ev.Task)
	case events.EventTaskComplete:
		fmt.Printf("[%s] %s completed\n", ev.Timestamp.Format("15:04:05"), ev.Task)
	case events.EventTaskError:
		fmt.Printf("[%s] %s failed: %s\n", ev.Timestamp.Format("15:04:05"), ev.Task, ev.Err)
	case events.EventHealthCritical:
		fmt.Printf("[%s] CRITICAL %s: %s\n", ev.Timestamp.Format("15:04:05"), ev.Category, ev.Message)
	case events.EventHealthDegraded:
		fmt.Printf("[%s] degraded %s: %s\n", ev.Timestamp.Format("15:04:05"), ev.Category, ev.Message)
	default:
		fmt.Printf("[%s] %s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Message)
	}
}

func init() {
	startCmd.Flags().Int("interval", 0, "health check interval in minutes (overrides config)")
	rootCmd.AddCommand(startCmd)
}
