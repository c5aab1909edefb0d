// forged is an autonomous maintenance daemon for LLM agent systems: it
// watches system health, mines task history for behavioral patterns, analyzes
// agent performance, and applies vetted skill-file updates.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
