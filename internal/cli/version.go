package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisgavin/trailbot/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trailbot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
