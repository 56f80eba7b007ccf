package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcastellin/whispers/internal/bootstrap"
	"github.com/mcastellin/whispers/internal/logging"
)

var (
	flagIP   string
	flagID   string
	flagPort uint16
)

var rootCmd = &cobra.Command{
	Use:   "whispersd",
	Short: "whispersd discovers LAN peers over mDNS and gossips node state between them",
	Long: `whispersd is a peer-discovery and gossip-dissemination daemon.

It advertises itself over mDNS, resolves other whispersd instances on the
same LAN, and periodically exchanges a last-write-wins view of node state
with a random subset of known peers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagIP, "ip", "", "IPv4 address to bind and advertise (defaults to the first non-loopback local address)")
	rootCmd.Flags().StringVar(&flagID, "id", "", "this node's id (defaults to a random UUID)")
	rootCmd.Flags().Uint16Var(&flagPort, "port", 0, "TCP port to bind (0 picks an OS-assigned port)")
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	daemon, err := bootstrap.Build(bootstrap.Args{
		IP:   flagIP,
		ID:   flagID,
		Port: flagPort,
	}, logger)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	logger.Info("whispersd started",
		zap.String("id", string(daemon.Descriptor.ID)),
		zap.String("host", daemon.Descriptor.Host()))

	return daemon.Wait()
}
