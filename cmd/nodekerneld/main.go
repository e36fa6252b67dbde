package main

import (
	"fmt"
	"os"

	"github.com/arcology-network/nodekernel/cmd/nodekerneld/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
