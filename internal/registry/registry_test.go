package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	dir := Dir(base, "web1")

	m := Metadata{
		Name:   "web1",
		Status: StatusCreated,
		Resources: Resources{
			MemoryMB:      256,
			CPUPercentage: 50,
		},
		Network: Network{IPAddress: "10.0.0.2"},
	}

	if err := Save(dir, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name != "web1" || loaded.Network.IPAddress != "10.0.0.2" {
		t.Fatalf("unexpected round-trip result: %+v", loaded)
	}
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	base := t.TempDir()
	dir := Dir(base, "web2")

	if err := Save(dir, Metadata{Name: "web2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("unexpected leftover temp file: %s", e.Name())
		}
	}
}

func TestExistsReflectsPresence(t *testing.T) {
	base := t.TempDir()
	if Exists(base, "ghost") {
		t.Fatal("expected Exists to be false before Save")
	}
	if err := Save(Dir(base, "ghost"), Metadata{Name: "ghost"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(base, "ghost") {
		t.Fatal("expected Exists to be true after Save")
	}
}

func TestListSkipsInvalidAndSortsByName(t *testing.T) {
	base := t.TempDir()
	Save(Dir(base, "zeta"), Metadata{Name: "zeta"})
	Save(Dir(base, "alpha"), Metadata{Name: "alpha"})

	// a directory with no metadata file at all
	if err := os.MkdirAll(filepath.Join(base, "broken"), 0755); err != nil {
		t.Fatalf("mkdir broken: %v", err)
	}

	list, err := List(base)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 valid entries, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("expected sorted order [alpha zeta], got [%s %s]", list[0].Name, list[1].Name)
	}
}

func TestListOnMissingBaseReturnsEmpty(t *testing.T) {
	list, err := List(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(list))
	}
}

func TestRemoveDeletesDirectory(t *testing.T) {
	base := t.TempDir()
	dir := Dir(base, "gone")
	if err := Save(dir, Metadata{Name: "gone"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Remove(dir); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if Exists(base, "gone") {
		t.Fatal("expected Exists to be false after Remove")
	}
}
