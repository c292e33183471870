package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avsafe-data/avsafe.report/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build identification",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "avsafe", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
