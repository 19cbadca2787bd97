package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ZepixTrader/pkg/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "zepix version %s\n", server.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
