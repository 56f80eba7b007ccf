package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/whispers/internal/lww"
	"github.com/mcastellin/whispers/internal/node"
)

const (
	// DefaultInterval is the default fixed tick interval.
	DefaultInterval = 5 * time.Second
	// DefaultFullSyncEvery is the default full-sync cadence: every Nth tick.
	DefaultFullSyncEvery = 10
	// DefaultFanout is the default number of peers contacted per tick.
	DefaultFanout = 3

	healthTimeout = 1 * time.Second
	postTimeout   = 5 * time.Second
)

// Whisperer is the periodic gossip-dissemination task: it builds a
// payload (delta or full-sync), samples random healthy peers, and
// POSTs the payload to each in turn.
type Whisperer struct {
	logger *zap.Logger
	self   node.ID
	store  *lww.Map[node.ID, node.State]
	client *http.Client

	Interval      time.Duration
	FullSyncEvery int
	Fanout        int

	tick int
}

// NewWhisperer builds a Whisperer gossiping store's contents on behalf
// of self, using client for transport.
func NewWhisperer(logger *zap.Logger, self node.ID, store *lww.Map[node.ID, node.State], client *http.Client) *Whisperer {
	return &Whisperer{
		logger:        logger,
		self:          self,
		store:         store,
		client:        client,
		Interval:      DefaultInterval,
		FullSyncEvery: DefaultFullSyncEvery,
		Fanout:        DefaultFanout,
	}
}

// NewHTTPClient builds the shared client used by the whisperer, with
// aggressive idle-connection teardown per spec §5's shared-resource
// policy (pool_idle_timeout=1s, pool_max_idle_per_host=0, keepalive
// disabled).
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			IdleConnTimeout:     1 * time.Second,
			MaxIdleConnsPerHost: 0,
			DisableKeepAlives:   true,
		},
	}
}

// Run executes the whisperer loop until ctx is canceled. Cancellation
// is checked first on every iteration (a biased race) so a pending
// tick cannot delay shutdown, per spec §4.5.
func (w *Whisperer) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick++
			w.runTick(ctx)
		}
	}
}

func (w *Whisperer) runTick(ctx context.Context) {
	fullSync := w.FullSyncEvery > 0 && w.tick%w.FullSyncEvery == 0
	payload := w.buildPayload(fullSync)
	if payload.Empty() {
		return
	}

	targets := w.selectTargets()
	if len(targets) == 0 {
		return
	}

	for _, target := range targets {
		if !w.probeHealth(ctx, target.Address) {
			w.logf().Debug("skipping unhealthy peer", zap.String("peer", string(target.ID)))
			continue
		}
		if err := w.send(ctx, target.Address, payload); err != nil {
			w.logf().Debug("gossip send failed", zap.String("peer", string(target.ID)), zap.Error(err))
		}
	}
}

// buildPayload returns the whole map snapshot on a full-sync tick, or
// only the dirty delta otherwise.
func (w *Whisperer) buildPayload(fullSync bool) Payload {
	var diffs []Diff
	if fullSync {
		for _, entry := range w.store.Snapshot() {
			diffs = append(diffs, Diff{ID: entry.Key, State: entry.Value})
		}
	} else {
		for _, key := range w.store.TakeDirty() {
			if v, ok := w.store.Get(key); ok {
				diffs = append(diffs, Diff{ID: key, State: v})
			}
		}
	}
	return Payload{From: w.self, Diffs: diffs}
}

// selectTargets samples up to Fanout peers, excluding self, uniformly
// without replacement.
func (w *Whisperer) selectTargets() []node.State {
	var candidates []node.State
	for _, entry := range w.store.Snapshot() {
		if entry.Key == w.self {
			continue
		}
		candidates = append(candidates, entry.Value)
	}

	fanout := w.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	if len(candidates) <= fanout {
		return candidates
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:fanout]
}

func (w *Whisperer) probeHealth(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (w *Whisperer) send(ctx context.Context, addr string, payload Payload) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/gossip", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{addr: addr, status: resp.StatusCode}
	}
	return nil
}

func (w *Whisperer) logf() *zap.Logger {
	if w.logger != nil {
		return w.logger
	}
	return zap.NewNop()
}

type httpStatusError struct {
	addr   string
	status int
}

func (e *httpStatusError) Error() string {
	return "gossip post to " + e.addr + " returned non-success status " + httpStatusText(e.status)
}

func httpStatusText(status int) string {
	return http.StatusText(status)
}
