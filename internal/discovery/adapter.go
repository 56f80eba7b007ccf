package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"go.uber.org/zap"

	"github.com/mcastellin/whispers/internal/lww"
	"github.com/mcastellin/whispers/internal/node"
)

// Adapter translates mDNS browse events into upsert/remove operations
// on the cluster view, filtering out this node's own advertisement.
type Adapter struct {
	logger *zap.Logger
	self   node.ID
	store  *lww.Map[node.ID, node.State]
}

// NewAdapter builds an Adapter that writes into store on behalf of
// self's local view, dropping any event resolved to self.
func NewAdapter(logger *zap.Logger, self node.ID, store *lww.Map[node.ID, node.State]) *Adapter {
	return &Adapter{logger: logger, self: self, store: store}
}

// Run browses for ServiceType until ctx is canceled, applying each
// resolved/removed event to the store. The adapter never exits on a
// malformed event; it exits only on cancellation or stream closure.
func (a *Adapter) Run(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
			a.logf().Debug("mdns browse ended", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			a.handleEntry(entry)
		}
	}
}

// handleEntry applies one resolved service entry. zeroconf's
// grandcat-derived resolver reports removals as resolved entries with
// a zero TTL, so both Resolved and Removed events in spec §4.2 are
// handled here by branching on entry.TTL.
func (a *Adapter) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry.TTL == 0 {
		a.handleRemoved(entry)
		return
	}
	a.handleResolved(entry)
}

func (a *Adapter) handleResolved(entry *zeroconf.ServiceEntry) {
	id, ip, port, err := parseTXT(entry.Text)
	if err != nil {
		a.logf().Debug("dropping malformed discovery event", zap.Error(err))
		return
	}

	if ip == nil {
		if v4 := firstIPv4(entry.AddrIPv4); v4 != nil {
			ip = v4
		}
	}
	if ip == nil {
		a.logf().Debug("resolved entry has no usable IPv4 address", zap.String("instance", entry.Instance))
		return
	}

	if id == a.self {
		return
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	state := node.State{
		ID:       id,
		Address:  addr,
		LastSeen: uint64(time.Now().UnixNano()),
	}
	a.store.Insert(id, state)
}

func (a *Adapter) handleRemoved(entry *zeroconf.ServiceEntry) {
	id, _, _, err := parseTXT(entry.Text)
	if err != nil {
		// Fall back to the instance name, which for this service is the NodeId.
		if entry.Instance == "" {
			a.logf().Debug("dropping removal event with no parseable id")
			return
		}
		id = node.ID(entry.Instance)
	}
	if id == a.self {
		return
	}
	a.store.Remove(id)
}

func (a *Adapter) logf() *zap.Logger {
	if a.logger != nil {
		return a.logger
	}
	return zap.NewNop()
}

func firstIPv4(addrs []net.IP) net.IP {
	for _, ip := range addrs {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}
