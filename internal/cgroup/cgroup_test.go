package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestCreateV1WritesMemoryAndCPULimits(t *testing.T) {
	root := t.TempDir()
	d := NewDriver(V1, root)

	paths, err := d.Create("web1", 256, 50)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	limit, err := os.ReadFile(filepath.Join(paths.Memory, "memory.limit_in_bytes"))
	if err != nil {
		t.Fatalf("read limit: %v", err)
	}
	want := strconv.FormatInt(256<<20, 10)
	if strings.TrimSpace(string(limit)) != want {
		t.Errorf("memory.limit_in_bytes = %q, want %q", limit, want)
	}

	quota, err := os.ReadFile(filepath.Join(paths.CPU, "cpu.cfs_quota_us"))
	if err != nil {
		t.Fatalf("read quota: %v", err)
	}
	if strings.TrimSpace(string(quota)) != "50000" {
		t.Errorf("cpu.cfs_quota_us = %q, want 50000", quota)
	}
}

func TestCreateV2WritesUnifiedLimits(t *testing.T) {
	root := t.TempDir()
	d := NewDriver(V2, root)

	paths, err := d.Create("web2", 512, 25)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if paths.Memory != paths.CPU {
		t.Fatal("expected v2 to use a single unified directory")
	}

	max, err := os.ReadFile(filepath.Join(paths.Memory, "memory.max"))
	if err != nil {
		t.Fatalf("read memory.max: %v", err)
	}
	want := strconv.FormatInt(512<<20, 10)
	if strings.TrimSpace(string(max)) != want {
		t.Errorf("memory.max = %q, want %q", max, want)
	}

	cpuMax, err := os.ReadFile(filepath.Join(paths.CPU, "cpu.max"))
	if err != nil {
		t.Fatalf("read cpu.max: %v", err)
	}
	if strings.TrimSpace(string(cpuMax)) != "25000 100000" {
		t.Errorf("cpu.max = %q, want \"25000 100000\"", cpuMax)
	}
}

func TestCreateUnknownVersionFails(t *testing.T) {
	d := NewDriver(Unknown, t.TempDir())
	if _, err := d.Create("web3", 128, 50); err == nil {
		t.Fatal("expected error for unknown cgroup version")
	}
}

func TestAttachWritesAndVerifiesPID(t *testing.T) {
	root := t.TempDir()
	d := NewDriver(V2, root)
	paths, err := d.Create("web4", 128, 50)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := d.Attach(paths, os.Getpid()); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(paths.Memory, "cgroup.procs"))
	if err != nil {
		t.Fatalf("read cgroup.procs: %v", err)
	}
	if !strings.Contains(string(data), strconv.Itoa(os.Getpid())) {
		t.Fatal("expected cgroup.procs to contain the attached pid")
	}
}

func TestReadV2UsageComputesPercent(t *testing.T) {
	root := t.TempDir()
	d := NewDriver(V2, root)
	dir := filepath.Join(root, "container-web5")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	os.WriteFile(filepath.Join(dir, "memory.current"), []byte("52428800"), 0644) // 50MB
	os.WriteFile(filepath.Join(dir, "memory.max"), []byte("104857600"), 0644)    // 100MB
	os.WriteFile(filepath.Join(dir, "cpu.stat"), []byte("usage_usec 1000\nuser_usec 500\n"), 0644)

	usage, err := d.Read(Paths{Memory: dir, CPU: dir})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if usage.MemoryPercent != 50.0 {
		t.Errorf("MemoryPercent = %v, want 50.0", usage.MemoryPercent)
	}
	if usage.CPUUsageNS != 1000000 {
		t.Errorf("CPUUsageNS = %v, want 1000000", usage.CPUUsageNS)
	}
}

func TestDestroyRemovesEmptyDirectory(t *testing.T) {
	// Real cgroupfs directories rmdir cleanly even though `ls` shows
	// kernel-generated control files (they aren't ordinary dentries); an
	// ordinary tmpfs/ext4 directory only mirrors that once it holds no
	// regular files, so this exercises Destroy's removal path directly
	// rather than through Create's limit-file writes.
	root := t.TempDir()
	dir := filepath.Join(root, "container-web6")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	d := NewDriver(V2, root)
	if failures := d.Destroy(Paths{Memory: dir, CPU: dir}); failures != 0 {
		t.Fatalf("Destroy returned %d failures", failures)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected cgroup directory to be removed")
	}
}

func TestFreezeThawV2WritesCgroupFreeze(t *testing.T) {
	root := t.TempDir()
	d := NewDriver(V2, root)
	paths, err := d.Create("web7", 128, 50)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := d.Freeze(paths); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(paths.Memory, "cgroup.freeze"))
	if strings.TrimSpace(string(data)) != "1" {
		t.Errorf("cgroup.freeze = %q after Freeze, want 1", data)
	}

	if err := d.Thaw(paths); err != nil {
		t.Fatalf("Thaw: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(paths.Memory, "cgroup.freeze"))
	if strings.TrimSpace(string(data)) != "0" {
		t.Errorf("cgroup.freeze = %q after Thaw, want 0", data)
	}
}
