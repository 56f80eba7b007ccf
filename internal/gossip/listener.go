package gossip

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/whispers/internal/lww"
	"github.com/mcastellin/whispers/internal/node"
)

// handlerTimeout bounds how long an inbound /gossip request may run,
// per spec §5's "5s for inbound handler".
const handlerTimeout = 5 * time.Second

// drainTimeout bounds graceful shutdown: stop accepting, drain
// in-flight requests, then close.
const drainTimeout = 5 * time.Second

// H is a shorthand for a JSON response body map, following the
// teacher's ApiServer convention of the same name.
type H map[string]any

// Listener is the HTTP receiver exposing /gossip (merge) and /health
// (liveness), bound to a pre-built net.Listener so the bootstrap stage
// controls port selection.
type Listener struct {
	logger *zap.Logger
	store  *lww.Map[node.ID, node.State]
	srv    *http.Server
}

// NewListener builds a Listener that merges incoming gossip into store.
func NewListener(logger *zap.Logger, store *lww.Map[node.ID, node.State]) *Listener {
	l := &Listener{logger: logger, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/gossip", l.handleGossip)
	mux.HandleFunc("/health", l.handleHealth)

	l.srv = &http.Server{Handler: timeoutMiddleware(mux, handlerTimeout)}
	return l
}

// Serve runs the listener on ln until ctx is canceled, then performs a
// bounded graceful shutdown. Matches the spec §4.4 serve lifecycle.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := l.srv.Shutdown(shutdownCtx); err != nil {
			l.logf().Warn("gossip listener forced closed", zap.Error(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (l *Listener) handleGossip(w http.ResponseWriter, r *http.Request) {
	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	l.logf().Debug("received gossip", zap.String("from", payload.From.String()), zap.Int("diffs", len(payload.Diffs)))
	for _, diff := range payload.Diffs {
		l.store.Insert(diff.ID, diff.State)
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (l *Listener) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(H{"status": "ok"})
}

func (l *Listener) logf() *zap.Logger {
	if l.logger != nil {
		return l.logger
	}
	return zap.NewNop()
}

// timeoutMiddleware wraps handler with http.TimeoutHandler, bounding
// every request to d.
func timeoutMiddleware(handler http.Handler, d time.Duration) http.Handler {
	return http.TimeoutHandler(handler, d, "request timed out")
}
