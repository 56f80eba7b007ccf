package gossip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mcastellin/whispers/internal/lww"
	"github.com/mcastellin/whispers/internal/node"
)

type recordingPeer struct {
	mu       sync.Mutex
	received []Payload
	healthy  bool
	srv      *httptest.Server
}

func newRecordingPeer() *recordingPeer {
	p := &recordingPeer{healthy: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		healthy := p.healthy
		p.mu.Unlock()
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/gossip", func(w http.ResponseWriter, r *http.Request) {
		var payload Payload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		p.mu.Lock()
		p.received = append(p.received, payload)
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	p.srv = httptest.NewServer(mux)
	return p
}

func (p *recordingPeer) addr() string {
	return p.srv.Listener.Addr().String()
}

func (p *recordingPeer) setHealthy(v bool) {
	p.mu.Lock()
	p.healthy = v
	p.mu.Unlock()
}

func (p *recordingPeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

func (p *recordingPeer) close() { p.srv.Close() }

func TestWhispererSendsOnlyDirtyDelta(t *testing.T) {
	peer := newRecordingPeer()
	defer peer.close()

	store := lww.New[node.ID, node.State]()
	store.Insert("self", node.State{ID: "self", Address: "ignored", LastSeen: 1})
	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 1})
	store.TakeDirty() // clear initial inserts so only the next write is "dirty"

	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 2})

	w := NewWhisperer(nil, "self", store, NewHTTPClient())
	w.FullSyncEvery = 0
	w.tick = 1

	w.runTick(context.Background())

	if peer.count() != 1 {
		t.Fatalf("expected 1 gossip POST, got %d", peer.count())
	}
	if len(peer.received[0].Diffs) != 1 {
		t.Fatalf("expected 1 diff (delta only), got %d", len(peer.received[0].Diffs))
	}
}

func TestWhispererFullSyncSendsEntireSnapshot(t *testing.T) {
	peer := newRecordingPeer()
	defer peer.close()

	store := lww.New[node.ID, node.State]()
	store.Insert("self", node.State{ID: "self", LastSeen: 1})
	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 1})
	store.Insert("other", node.State{ID: "other", Address: "10.0.0.9:1", LastSeen: 1})
	store.TakeDirty()

	w := NewWhisperer(nil, "self", store, NewHTTPClient())
	w.FullSyncEvery = 10
	w.Fanout = 3
	w.tick = 10 // Nth tick => full sync

	w.runTick(context.Background())

	if peer.count() != 1 {
		t.Fatalf("expected 1 gossip POST, got %d", peer.count())
	}
	if len(peer.received[0].Diffs) != 3 {
		t.Fatalf("expected full snapshot of 3 entries, got %d", len(peer.received[0].Diffs))
	}
}

func TestWhispererSkipsEmptyPayload(t *testing.T) {
	peer := newRecordingPeer()
	defer peer.close()

	store := lww.New[node.ID, node.State]()
	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 1})
	store.TakeDirty()

	w := NewWhisperer(nil, "self", store, NewHTTPClient())
	w.FullSyncEvery = 0
	w.tick = 1

	w.runTick(context.Background())

	if peer.count() != 0 {
		t.Fatalf("expected no gossip sent for an empty delta, got %d", peer.count())
	}
}

func TestWhispererHealthGating(t *testing.T) {
	// Scenario D: an unhealthy peer receives zero payloads; a healthy
	// response restores delivery.
	peer := newRecordingPeer()
	defer peer.close()
	peer.setHealthy(false)

	store := lww.New[node.ID, node.State]()
	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 1})
	store.TakeDirty()
	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 2})

	w := NewWhisperer(nil, "self", store, NewHTTPClient())
	w.FullSyncEvery = 0
	w.tick = 1
	w.runTick(context.Background())

	if peer.count() != 0 {
		t.Fatalf("expected 0 sends while unhealthy, got %d", peer.count())
	}

	peer.setHealthy(true)
	store.Insert("peer", node.State{ID: "peer", Address: peer.addr(), LastSeen: 3})
	w.runTick(context.Background())

	if peer.count() != 1 {
		t.Fatalf("expected delivery restored once healthy, got %d", peer.count())
	}
}

func TestWhispererCancellationIsBiased(t *testing.T) {
	// Property 6 / §4.5: cancellation wins a pending tick race.
	store := lww.New[node.ID, node.State]()
	w := NewWhisperer(nil, "self", store, NewHTTPClient())
	w.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly on a pre-canceled context")
	}
}
