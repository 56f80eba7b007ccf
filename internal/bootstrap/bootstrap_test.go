package bootstrap

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestResolveIPExplicit(t *testing.T) {
	ip, err := resolveIP("10.0.0.7")
	if err != nil {
		t.Fatalf("resolveIP: %v", err)
	}
	if ip.String() != "10.0.0.7" {
		t.Fatalf("ip = %v, want 10.0.0.7", ip)
	}
}

func TestResolveIPRejectsMalformed(t *testing.T) {
	if _, err := resolveIP("not-an-ip"); err == nil {
		t.Fatal("expected an error for a malformed address")
	}
}

func TestResolveIPProbesLocalWhenUnset(t *testing.T) {
	ip, err := resolveIP("")
	if err != nil {
		t.Fatalf("resolveIP: %v", err)
	}
	if ip == nil || ip.IsLoopback() {
		t.Fatalf("expected a non-loopback local address, got %v", ip)
	}
}

// TestBuildWiresEveryTask exercises the full staged pipeline: an
// explicit IP and id, port 0 so the OS picks one, then a prompt
// cancellation to confirm every spawned task joins within the
// supervisor's deadline (Property 6 end-to-end, Scenario E).
func TestBuildWiresEveryTask(t *testing.T) {
	logger := zap.NewNop()

	daemon, err := Build(Args{IP: "127.0.0.1", ID: "bootstrap-test-node", Port: 0}, logger)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if daemon.Descriptor.ID != "bootstrap-test-node" {
		t.Fatalf("descriptor id = %q, want bootstrap-test-node", daemon.Descriptor.ID)
	}
	if daemon.Descriptor.Port == 0 {
		t.Fatal("expected bootstrap to resolve a concrete bound port, got 0")
	}

	done := make(chan error, 1)
	go func() { done <- daemon.Wait() }()

	daemon.Supervisor.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down within 5s of cancellation")
	}
}

// TestBuildMintsRandomIDWhenUnset covers the "else random UUID" branch
// of NodeId minting.
func TestBuildMintsRandomIDWhenUnset(t *testing.T) {
	logger := zap.NewNop()

	daemon, err := Build(Args{IP: "127.0.0.1", Port: 0}, logger)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if daemon.Descriptor.ID == "" {
		t.Fatal("expected a minted NodeId, got empty string")
	}

	done := make(chan error, 1)
	go func() { done <- daemon.Wait() }()
	daemon.Supervisor.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down within 5s of cancellation")
	}
}
