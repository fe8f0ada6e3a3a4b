package orchestrator

import (
	"testing"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/registry"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	base := t.TempDir()
	drv := cgroup.NewDriver(cgroup.Unknown, t.TempDir())
	o, err := New(base, drv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestCreateRejectsBadName(t *testing.T) {
	o := newTestOrchestrator(t)
	if _, err := o.Create("", 128, 10, ""); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestCreateRejectsBadMemory(t *testing.T) {
	o := newTestOrchestrator(t)
	if _, err := o.Create("web1", 1, 10, ""); err == nil {
		t.Fatal("expected error for out-of-range memory")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	o := newTestOrchestrator(t)
	dir := o.dir("dup1")
	if err := registry.Save(dir, registry.Metadata{Name: "dup1", Status: registry.StatusCreated}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	if _, err := o.Create("dup1", 128, 10, ""); err == nil {
		t.Fatal("expected error for duplicate container name")
	}
}

func TestCreateAllowsDistinctNamesWithNoHashCollision(t *testing.T) {
	o := newTestOrchestrator(t)
	dir := o.dir("alpha")
	if err := registry.Save(dir, registry.Metadata{Name: "alpha", Status: registry.StatusCreated}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	collider, err := o.hashCollides("beta")
	if err != nil {
		t.Fatalf("hashCollides: %v", err)
	}
	if collider != "" {
		t.Fatalf("expected no collision between alpha and beta, got %q", collider)
	}
}

func TestRunRejectsUnknownContainer(t *testing.T) {
	o := newTestOrchestrator(t)
	if _, err := o.Run("ghost", nil, false); err == nil {
		t.Fatal("expected error loading nonexistent container metadata")
	}
}

func TestRunRejectsWrongState(t *testing.T) {
	o := newTestOrchestrator(t)
	dir := o.dir("web2")
	if err := registry.Save(dir, registry.Metadata{Name: "web2", Status: registry.StatusRunning}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	if _, err := o.Run("web2", nil, false); err == nil {
		t.Fatal("expected error running an already-running container")
	}
}

func TestDeleteRefusesRunningWithoutForce(t *testing.T) {
	o := newTestOrchestrator(t)
	dir := o.dir("web3")
	if err := registry.Save(dir, registry.Metadata{Name: "web3", Status: registry.StatusRunning}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	if _, err := o.Delete("web3", false); err == nil {
		t.Fatal("expected error deleting a running container without force")
	}
}

func TestInterruptFlagUnwindsStack(t *testing.T) {
	defer ClearInterrupted()
	SetInterrupted()

	o := newTestOrchestrator(t)
	if _, err := o.Create("web4", 128, 10, ""); err != ErrInterrupted {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if registry.Exists(o.BasePath, "web4") {
		t.Fatal("expected container directory to be rolled back after interrupt")
	}
}
