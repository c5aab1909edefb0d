package main

import (
	"github.com/spf13/cobra"

	"github.com/forgekit/forged/internal/config"
)

var (
	cfgFile  string
	forgeDir string
	verbose  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "forged",
	Short: "Autonomous maintenance daemon for LLM agent systems",
	Long: `forged keeps an LLM agent system healthy and improving over time.

It runs four maintenance tasks on a schedule:
- Health checks: disk, data directory size, stale sessions, database,
  memory, and config integrity, with automatic remediation where safe
- Pattern scans: mine task history and user corrections for behavioral
  patterns worth learning
- Performance analysis: per-agent success rates, trends, and suggestions
- Update application: apply high-confidence skill file updates with
  backup and rollback`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if forgeDir != "" {
			loaded.ForgeDir = forgeDir
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .forged.yaml in current directory)")
	rootCmd.PersistentFlags().StringVar(&forgeDir, "forge-dir", "", "forge data directory (default .forge)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
