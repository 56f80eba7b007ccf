// Package bootstrap stages the daemon's construction from already
// parsed args: resolve an address, bind a socket, mint a NodeId, build the shared
// cluster view, and register every long-running task on a Supervisor.
// Modeled on the original's ArgsStage -> bind_socket -> generate_id ->
// build staged pipeline, expressed as a linear sequence of constructor
// calls in the teacher's "construct, check error, keep going" idiom.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcastellin/whispers/internal/discovery"
	"github.com/mcastellin/whispers/internal/gossip"
	"github.com/mcastellin/whispers/internal/lww"
	"github.com/mcastellin/whispers/internal/node"
	"github.com/mcastellin/whispers/internal/shutdown"
)

// Args is the parsed CLI input this package consumes. Flag parsing
// itself is an external collaborator (cmd/whispersd); bootstrap only
// needs the three values spec §1 lists as the core's input.
type Args struct {
	IP   string
	ID   string
	Port uint16
}

// Daemon holds everything bootstrap wires together, ready to run.
type Daemon struct {
	Supervisor *shutdown.Supervisor
	Store      *lww.Map[node.ID, node.State]
	Descriptor discovery.Descriptor
	logger     *zap.Logger
}

// Build stages the daemon's construction and registers its four
// long-running tasks plus a signal-handler task on a fresh Supervisor.
// Returns an error immediately if any bootstrap step fails; per spec
// §7, bootstrap failures are the only fatal error class.
func Build(args Args, logger *zap.Logger) (*Daemon, error) {
	ip, err := resolveIP(args.IP)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolving IP: %w", err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(ip.String(), fmt.Sprint(args.Port)))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: binding socket: %w", err)
	}
	boundPort := uint16(ln.Addr().(*net.TCPAddr).Port)

	id := node.ID(args.ID)
	if id == "" {
		id = node.ID(uuid.NewString())
	}

	descriptor := discovery.Descriptor{ID: id, IP: ip, Port: boundPort}

	store := lww.New[node.ID, node.State]()
	supervisor := shutdown.New(logger)

	registrar := discovery.NewRegistrar(logger, descriptor)
	adapter := discovery.NewAdapter(logger, id, store)
	listener := gossip.NewListener(logger, store)
	whisperer := gossip.NewWhisperer(logger, id, store, gossip.NewHTTPClient())

	supervisor.SpawnGuarded("registrar", registrar.Run)
	supervisor.SpawnGuarded("discovery-adapter", adapter.Run)
	supervisor.SpawnGuarded("gossip-listener", func(ctx context.Context) error {
		return listener.Serve(ctx, ln)
	})
	supervisor.SpawnGuarded("gossip-whisperer", whisperer.Run)
	supervisor.Spawn("signal-handler", func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
			logger.Info("signal received, shutting down")
			supervisor.Cancel()
		case <-supervisor.Context().Done():
		}
		return nil
	})

	return &Daemon{
		Supervisor: supervisor,
		Store:      store,
		Descriptor: descriptor,
		logger:     logger,
	}, nil
}

// Wait blocks until the supervisor has finished shutting down every
// task, returning their aggregated error (if any).
func (d *Daemon) Wait() error {
	return d.Supervisor.Shutdown()
}

// resolveIP picks the bind address: the explicit flag if given, else
// the first non-loopback IPv4 address found on a local interface.
func resolveIP(explicit string) (net.IP, error) {
	if explicit != "" {
		ip := net.ParseIP(explicit).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid IPv4 address: %q", explicit)
		}
		return ip, nil
	}

	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerating local interfaces: %w", err)
	}
	for _, addr := range ifaces {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("could not determine a local IPv4 address")
}
