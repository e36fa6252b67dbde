package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcology-network/nodekernel/config"
	"github.com/arcology-network/nodekernel/kernel"
	"github.com/arcology-network/nodekernel/kernel/message"
	"github.com/arcology-network/nodekernel/kernel/task"
	"github.com/arcology-network/nodekernel/kernel/tunnel"
	"github.com/arcology-network/nodekernel/libs/log"
)

// RunCmd starts a single node's scheduler loop, run-to-completion the
// way spec.md §4.4 describes: Pass(), then sleep for at most
// IdleTime() before the next Pass(), until SIGINT/SIGTERM.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node scheduler loop",
	RunE:  runNode,
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configFile)
}

// buildNode wires a kernel.Node from cfg with its configured mailbox
// groups and the demo echo_task, shared by run/show-tasks/show-mailboxes
// so every subcommand sees the same node shape.
func buildNode(cfg *config.Config, logger log.Logger) (*kernel.Node, error) {
	node := kernel.NewNode(cfg.CoreName, []tunnel.Tunnel{}, nil, nil, logger, nil)

	for _, g := range cfg.Mailboxes {
		if err := node.CreateMailboxGroup(g.SlotCapacity, g.SlotCount); err != nil {
			return nil, err
		}
	}
	if _, err := node.CreateTask("echo_task", echoCallback, nil, 0); err != nil {
		return nil, err
	}
	return node, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := log.NewDefaultLogger()
	node, err := buildNode(cfg, logger)
	if err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("node started", "core", cfg.CoreName)
	for {
		select {
		case <-stop:
			logger.Info("node shutting down")
			return nil
		default:
			node.Pass()
			idle := node.IdleTime()
			if idle <= 0 || idle > 50*time.Millisecond {
				idle = 50 * time.Millisecond
			}
			time.Sleep(idle)
		}
	}
}

// echoCallback is the demo task wired up by `run`: it ignores whatever it
// receives and goes back to IDLE, the simplest possible spec.md §3
// task.Callback.
func echoCallback(name string, msg *message.Message, arg interface{}) task.State {
	return task.Idle
}
