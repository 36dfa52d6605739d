package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lore",
	Short: "Knowledge retrieval and lifecycle governance for agent runs",
	Long: "Lore stores skills, tools, memories and graph nodes, retrieves them for a task, " +
		"and governs their lifecycle: dedupe, rollback and quality-driven deprecation.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(edgesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(rollbackRunCmd)
	rootCmd.AddCommand(deprecateCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(addCmd)
}
