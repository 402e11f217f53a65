package cmd

import (
	"fmt"

	"github.com/BoundlessStudio/ElectricRaspberry-sub001/electricraspberry"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			electricraspberry.Version,
			electricraspberry.CommitSHA,
			electricraspberry.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
