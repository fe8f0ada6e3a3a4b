package launcher

import (
	"os"
	"testing"
)

func TestWriteReadRemovePID(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir, 4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if got := ReadPID(dir); got != 4242 {
		t.Fatalf("ReadPID = %d, want 4242", got)
	}

	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if got := ReadPID(dir); got != 0 {
		t.Fatalf("ReadPID after removal = %d, want 0", got)
	}
}

func TestReadPIDMissingFileReturnsZero(t *testing.T) {
	if got := ReadPID(t.TempDir()); got != 0 {
		t.Fatalf("ReadPID on empty dir = %d, want 0", got)
	}
}

func TestAliveForCurrentProcess(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatal("expected current process to report alive")
	}
}

func TestAliveForImprobablePID(t *testing.T) {
	if Alive(999999999) {
		t.Fatal("expected an implausible pid to report not alive")
	}
}

func TestAliveRejectsNonPositivePID(t *testing.T) {
	if Alive(0) || Alive(-1) {
		t.Fatal("expected non-positive pids to report not alive")
	}
}

func TestCapNameKnownAndUnknownBits(t *testing.T) {
	if capName(0) != "CAP_CHOWN" {
		t.Fatalf("capName(0) = %q, want CAP_CHOWN", capName(0))
	}
	if capName(99) != "" {
		t.Fatalf("capName(99) = %q, want empty for an unmapped bit", capName(99))
	}
}

func TestContainsHelper(t *testing.T) {
	list := []string{"CAP_CHOWN", "CAP_SETUID"}
	if !contains(list, "CAP_CHOWN") {
		t.Fatal("expected contains to find CAP_CHOWN")
	}
	if contains(list, "CAP_SYS_ADMIN") {
		t.Fatal("expected contains to not find CAP_SYS_ADMIN")
	}
}
