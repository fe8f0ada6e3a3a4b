package reporter

import (
	"testing"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/registry"
)

func TestClassifySeverityBands(t *testing.T) {
	cases := []struct {
		pct  float64
		want Severity
	}{
		{0, SeverityNormal},
		{49.9, SeverityNormal},
		{50, SeverityHigh},
		{79.9, SeverityHigh},
		{80, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, c := range cases {
		if got := classify(c.pct); got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.pct, got, c.want)
		}
	}
}

func TestReportForStoppedContainerHasNoProcesses(t *testing.T) {
	base := t.TempDir()
	drv := cgroup.NewDriver(cgroup.Unknown, t.TempDir())
	r := New(base, drv)

	dir := registry.Dir(base, "web1")
	meta := registry.Metadata{
		Name:   "web1",
		Status: registry.StatusStopped,
		Resources: registry.Resources{
			MemoryMB:      256,
			CPUPercentage: 50,
		},
	}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := r.Report("web1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(s.Processes) != 0 {
		t.Fatalf("expected no processes for stopped container, got %d", len(s.Processes))
	}
	if s.CPUSeverity != SeverityHigh {
		t.Fatalf("expected high severity for cpu_percentage=50, got %v", s.CPUSeverity)
	}
}

func TestTopologyListsEveryContainer(t *testing.T) {
	base := t.TempDir()
	drv := cgroup.NewDriver(cgroup.Unknown, t.TempDir())
	r := New(base, drv)

	for _, name := range []string{"a1", "b2"} {
		dir := registry.Dir(base, name)
		meta := registry.Metadata{
			Name:   name,
			Status: registry.StatusCreated,
			Network: registry.Network{
				IPAddress: "10.0.0.2",
			},
		}
		if err := registry.Save(dir, meta); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	nodes, err := r.Topology()
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	rendered := Render(nodes)
	if rendered == "" {
		t.Fatal("expected non-empty render output")
	}
}
