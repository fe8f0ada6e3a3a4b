package audit

import (
	"os"
	"testing"

	"github.com/sandia-rt/rt-containers/internal/registry"
)

func TestContainerNoFindingsOnExpectedPerms(t *testing.T) {
	base := t.TempDir()
	dir := registry.Dir(base, "web1")
	rootfs := dir + "/rootfs"

	meta := registry.Metadata{Name: "web1", Rootfs: rootfs}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.MkdirAll(rootfs, 0755); err != nil {
		t.Fatalf("mkdir rootfs: %v", err)
	}
	os.Chmod(dir, 0755)
	os.Chmod(registry.ConfigPath(dir), 0644)

	r, err := Container(base, "web1")
	if err != nil {
		t.Fatalf("Container: %v", err)
	}
	if len(r.Findings) != 0 {
		t.Fatalf("expected no findings, got %v", r.Findings)
	}
}

func TestContainerFlagsBadDirMode(t *testing.T) {
	base := t.TempDir()
	dir := registry.Dir(base, "web2")
	meta := registry.Metadata{Name: "web2", Rootfs: t.TempDir()}
	if err := registry.Save(dir, meta); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Chmod(dir, 0777); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	r, err := Container(base, "web2")
	if err != nil {
		t.Fatalf("Container: %v", err)
	}
	if len(r.Findings) == 0 {
		t.Fatal("expected a finding for an overly-permissive directory mode")
	}
}

func TestRenderNoFindings(t *testing.T) {
	r := Report{Name: "web3", Capabilities: []string{"CAP_CHOWN"}}
	out := Render(r)
	if out == "" {
		t.Fatal("expected non-empty render output")
	}
}
