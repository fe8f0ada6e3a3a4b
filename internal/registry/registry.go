// Package registry implements the on-disk container metadata store: the
// JSON schema of §6, atomic temp-file-then-rename writes, and the
// Registry type that the orchestrator rebuilds from disk at the start of
// every invocation (Open Question decision #2 -- the namespace directory
// and metadata files are the sole source of truth; nothing is persisted
// in a process-global map the way the teacher's `vms` slice is).
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sandia-rt/rt-containers/internal/rterrors"
)

// Status is the container lifecycle state, per §3.
type Status string

const (
	StatusCreating  Status = "creating"
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
	StatusRecovered Status = "recovered"
)

// Resources is the memory/CPU limit pair.
type Resources struct {
	MemoryMB      int `json:"memory_mb"`
	CPUPercentage int `json:"cpu_percentage"`
}

// Network is the per-container network metadata.
type Network struct {
	IPAddress     string `json:"ip_address"`
	VethHost      string `json:"veth_host"`
	VethContainer string `json:"veth_container"`
}

// Namespaces records the namespace identifiers bound to the init process.
type Namespaces struct {
	PID  string `json:"pid"`
	Net  string `json:"net"`
	Mnt  string `json:"mnt"`
	UTS  string `json:"uts"`
	IPC  string `json:"ipc"`
	User string `json:"user"`
}

// Cgroups records the resolved cgroup paths.
type Cgroups struct {
	Memory string `json:"memory"`
	CPU    string `json:"cpu"`
}

// Metadata is the full on-disk record for one container, matching the
// schema in §6 exactly.
type Metadata struct {
	Name       string     `json:"name"`
	Created    string     `json:"created"`
	Status     Status     `json:"status"`
	Resources  Resources  `json:"resources"`
	Network    Network    `json:"network"`
	Namespaces Namespaces `json:"namespaces"`
	Cgroups    Cgroups    `json:"cgroups"`
	PID        int        `json:"pid"`
	Rootfs     string     `json:"rootfs"`
	Logs       string     `json:"logs"`

	Recovered         bool   `json:"recovered,omitempty"`
	RecoveryTimestamp string `json:"recovery_timestamp,omitempty"`
}

// Dir returns the container directory under base.
func Dir(base, name string) string {
	return filepath.Join(base, name)
}

// ConfigPath returns the metadata file path under a container directory.
func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.json")
}

// Save atomically writes m to dir/config.json via a temp file in the same
// directory followed by rename, matching §5's "temp + rename" guarantee.
// Permissions are 0644 on the file, 0755 on the directory.
func Save(dir string, m Metadata) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return rterrors.New(rterrors.Filesystem, "registry.save", err).WithInput(dir)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return rterrors.New(rterrors.Filesystem, "registry.save.marshal", err).WithInput(dir)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return rterrors.New(rterrors.Filesystem, "registry.save.tempfile", err).WithInput(dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return rterrors.New(rterrors.Filesystem, "registry.save.write", err).WithInput(tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return rterrors.New(rterrors.Filesystem, "registry.save.close", err).WithInput(tmpPath)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return rterrors.New(rterrors.Filesystem, "registry.save.chmod", err).WithInput(tmpPath)
	}

	configPath := ConfigPath(dir)
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return rterrors.New(rterrors.Filesystem, "registry.save.rename", err).WithInput(configPath)
	}

	return nil
}

// Load reads and parses a container's metadata file.
func Load(dir string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		return m, rterrors.New(rterrors.Filesystem, "registry.load", err).WithInput(dir)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, rterrors.New(rterrors.Filesystem, "registry.load.unmarshal", err).WithInput(dir)
	}
	return m, nil
}

// Exists reports whether a container directory (with metadata) exists.
func Exists(base, name string) bool {
	_, err := os.Stat(ConfigPath(Dir(base, name)))
	return err == nil
}

// List enumerates every container under base by reading each
// subdirectory's metadata file, rebuilding the in-memory view from disk
// as the sole source of truth.
func List(base string) ([]Metadata, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rterrors.New(rterrors.Filesystem, "registry.list", err).WithInput(base)
	}

	var result []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		m, err := Load(dir)
		if err != nil {
			continue // skip directories without valid metadata; integrity engine handles those
		}
		result = append(result, m)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Remove deletes the entire container directory.
func Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return rterrors.New(rterrors.Filesystem, "registry.remove", err).WithInput(dir)
	}
	return nil
}

// NowUTC returns the current time formatted as the metadata schema's
// ISO-8601-UTC created/recovery timestamps.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
