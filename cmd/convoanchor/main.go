package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "convoanchor",
	Short: "Conversation ingestion, analytics, and content-hash anchoring daemon",
	Long: `convoanchor ingests conversation summaries from an external API,
scores them with lexical analytics, anchors their content hashes in a
simulated on-chain registry, and mints memory tokens for each record.

Run "convoanchor start" to launch the daemon, then use the scheduler
and conversations subcommands to operate it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(tokenizeCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(configCmd)
}
