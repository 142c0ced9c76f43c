// Package main implements the alignd daemon CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "alignd",
	Short: "Alignment decision engine for conversational agents",
	Long: `alignd decides, per user turn, which behavioral rules apply, where the
conversation sits in its scripted scenario, and whether the generated
response satisfies every hard constraint.`,
	Version: version + " (" + gitCommit + ")",
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
