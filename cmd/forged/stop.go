package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the running daemon to shut down",
	Long: `Send SIGTERM to the daemon recorded in the forge directory's state file.

The daemon finishes in-flight tasks, closes the learning store, and removes
its state file on the way out.`,
	Run: func(cmd *cobra.Command, args []string) {
		state, err := daemon.ReadStateFile(cfg.ForgeDir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no daemon running")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		process, err := os.FindProcess(state.PID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: process %d not found: %v\n", state.PID, err)
			os.Exit(1)
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to signal pid %d: %v\n", state.PID, err)
			fmt.Fprintf(os.Stderr, "The state file may be stale; remove %s manually if so.\n",
				daemon.StateFilePath(cfg.ForgeDir))
			os.Exit(1)
		}
		fmt.Printf("sent SIGTERM to daemon (pid %d)\n", state.PID)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
