package discovery

import (
	"context"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"go.uber.org/zap"
)

// unpublishDeadline bounds how long Registrar waits for zeroconf's
// Shutdown to return before logging a warning and giving up, the Go
// analogue of the original's "shutdown channel closed early" case
// (zeroconf's Shutdown has no async confirmation channel of its own).
const unpublishDeadline = 5 * time.Second

// Registrar publishes this node's service descriptor to the mDNS
// fabric and unpublishes it on cancellation.
type Registrar struct {
	logger     *zap.Logger
	descriptor Descriptor
}

// NewRegistrar builds a Registrar for descriptor.
func NewRegistrar(logger *zap.Logger, descriptor Descriptor) *Registrar {
	return &Registrar{logger: logger, descriptor: descriptor}
}

// Run publishes the descriptor, blocks until ctx is canceled, then
// unpublishes. Publishing errors are fatal to this task only; other
// tasks continue running.
func (r *Registrar) Run(ctx context.Context) error {
	server, err := zeroconf.Register(
		string(r.descriptor.ID),
		ServiceType,
		ServiceDomain,
		int(r.descriptor.Port),
		r.descriptor.TXT(),
		nil,
	)
	if err != nil {
		return err
	}

	r.logf().Info("service registered",
		zap.String("id", string(r.descriptor.ID)),
		zap.String("host", r.descriptor.Host()))

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		server.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		r.logf().Info("mDNS daemon shutdown complete")
	case <-time.After(unpublishDeadline):
		r.logf().Warn("mDNS daemon shutdown did not confirm before deadline")
	}

	return nil
}

func (r *Registrar) logf() *zap.Logger {
	if r.logger != nil {
		return r.logger
	}
	return zap.NewNop()
}
