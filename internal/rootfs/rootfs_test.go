package rootfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProvisionCreatesSkeletonAndEtcFiles(t *testing.T) {
	dir := t.TempDir()
	if err := Provision(dir); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	for _, d := range skeleton {
		if info, err := os.Stat(filepath.Join(dir, d)); err != nil || !info.IsDir() {
			t.Errorf("expected skeleton dir %q to exist", d)
		}
	}

	for _, f := range []string{"etc/passwd", "etc/group", "etc/hosts", "etc/resolv.conf"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("expected %q to exist", f)
		}
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := Provision(dir); err != nil {
		t.Fatalf("first Provision: %v", err)
	}

	marker := filepath.Join(dir, "etc", "passwd")
	if err := os.WriteFile(marker, []byte("custom content\n"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	if err := Provision(dir); err != nil {
		t.Fatalf("second Provision: %v", err)
	}

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != "custom content\n" {
		t.Fatal("expected re-run Provision not to overwrite an existing etc/passwd")
	}
}

func TestProvisionCreatesBusyboxAndApplets(t *testing.T) {
	dir := t.TempDir()
	if err := Provision(dir); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	busybox := filepath.Join(dir, "bin", "busybox")
	if _, err := os.Stat(busybox); err != nil {
		t.Fatalf("expected bin/busybox to exist: %v", err)
	}

	for _, applet := range Applets {
		link := filepath.Join(dir, "bin", applet)
		if _, err := os.Lstat(link); err != nil {
			t.Errorf("expected applet symlink %q to exist", applet)
		}
	}
}

func TestWipeRemovesTree(t *testing.T) {
	dir := t.TempDir()
	if err := Provision(dir); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := Wipe(dir); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected rootfs directory to be gone after Wipe")
	}
}
