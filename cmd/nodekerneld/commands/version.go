package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the nodekerneld release string, bumped at tag time.
const Version = "0.1.0"

// VersionCmd prints the nodekerneld version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}
