// Package commands implements the nodekerneld CLI, grounded on the
// teacher's cmd/tendermint/commands package: one cobra.Command variable
// per subcommand, assembled onto a shared RootCmd.
package commands

import (
	"github.com/spf13/cobra"
)

var configFile string

// RootCmd is the nodekerneld entry point.
var RootCmd = &cobra.Command{
	Use:   "nodekerneld",
	Short: "Run and inspect a cooperative microkernel node",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a node TOML config file (defaults built in if omitted)")
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(RunCmd)
	RootCmd.AddCommand(ShowTasksCmd)
	RootCmd.AddCommand(ShowMailboxesCmd)
}
