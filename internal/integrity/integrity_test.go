package integrity

import (
	"testing"
	"time"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/registry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	drv := cgroup.NewDriver(cgroup.Unknown, t.TempDir())
	return New(t.TempDir(), drv)
}

func TestCheckCorruptionMissingRootfs(t *testing.T) {
	e := newTestEngine(t)
	dir := registry.Dir(e.BasePath, "web1")
	meta := registry.Metadata{
		Name:   "web1",
		Status: registry.StatusCreated,
		Rootfs: dir + "/rootfs", // never provisioned
	}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := e.CheckCorruption("web1")
	if !r.Corrupt {
		t.Fatal("expected corruption for missing rootfs path")
	}
}

func TestCheckCorruptionRunningDeadPID(t *testing.T) {
	e := newTestEngine(t)
	dir := registry.Dir(e.BasePath, "web2")
	meta := registry.Metadata{
		Name:   "web2",
		Status: registry.StatusRunning,
		Rootfs: t.TempDir(),
		PID:    999999999, // astronomically unlikely to be alive
	}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := e.CheckCorruption("web2")
	if !r.Corrupt {
		t.Fatal("expected corruption for running status with dead pid")
	}
}

func TestCheckCorruptionHealthy(t *testing.T) {
	e := newTestEngine(t)
	dir := registry.Dir(e.BasePath, "web3")
	meta := registry.Metadata{
		Name:   "web3",
		Status: registry.StatusCreated,
		Rootfs: t.TempDir(),
	}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := e.CheckCorruption("web3")
	if r.Corrupt {
		t.Fatalf("expected no corruption, got reasons: %v", r.Reasons)
	}
}

func TestRecoverMarksFailedAndStampsTimestamp(t *testing.T) {
	e := newTestEngine(t)
	dir := registry.Dir(e.BasePath, "web4")
	meta := registry.Metadata{
		Name:   "web4",
		Status: registry.StatusRunning,
		Rootfs: t.TempDir(),
		PID:    999999998,
	}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recovered, err := e.Recover("web4")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered.Status != registry.StatusFailed {
		t.Fatalf("expected status failed, got %s", recovered.Status)
	}
	if !recovered.Recovered || recovered.RecoveryTimestamp == "" {
		t.Fatal("expected recovered flag and timestamp to be set")
	}
}

func TestStartOrphanReaperStopsCleanly(t *testing.T) {
	e := newTestEngine(t)
	stop := e.StartOrphanReaper(10 * time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	stop()
}

func TestValidateSystemReportsCgroupUnknown(t *testing.T) {
	drv := cgroup.NewDriver(cgroup.Unknown, t.TempDir())
	r, err := ValidateSystem(t.TempDir(), drv)
	if err != nil {
		t.Fatalf("ValidateSystem: %v", err)
	}
	if r.CgroupOK {
		t.Fatal("expected CgroupOK=false for Unknown version")
	}
	if len(r.Warnings) == 0 {
		t.Fatal("expected a warning about missing cgroup hierarchy")
	}
}
