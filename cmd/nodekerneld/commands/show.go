package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcology-network/nodekernel/libs/log"
)

// ShowTasksCmd prints the task list a node built from the configured
// mailbox groups and demo task would start with. There is no running
// daemon to query in this single-process model (spec.md §1 names no
// IPC surface), so this renders the same startup shape `run` would use.
var ShowTasksCmd = &cobra.Command{
	Use:   "show-tasks",
	Short: "Show the task list a node would start with",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		node, err := buildNode(cfg, log.NewNopLogger())
		if err != nil {
			return err
		}
		fmt.Print(node.Tasks.Dump())
		return nil
	},
}

// ShowMailboxesCmd prints the mailbox groups a node would start with.
var ShowMailboxesCmd = &cobra.Command{
	Use:   "show-mailboxes",
	Short: "Show the mailbox groups a node would start with",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		node, err := buildNode(cfg, log.NewNopLogger())
		if err != nil {
			return err
		}
		fmt.Print(node.Mailbox.Dump())
		return nil
	},
}
