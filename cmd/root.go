package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pbft",
	Short: "A Practical Byzantine Fault Tolerance replica",
	Long:  `pbft runs one replica of a fixed N=3F+1 cluster, agreeing on client operations via PrePrepare/Prepare/Commit.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
