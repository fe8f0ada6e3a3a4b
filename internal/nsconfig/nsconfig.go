// Package nsconfig implements the namespace configurator (C5): it
// produces the six-namespace configuration for a container and persists
// each as a <type>.conf key=value file under the container's namespace
// directory. It does not enter namespaces itself -- it only declares
// them; golang.org/x/sys/unix.CLONE_NEW* supplies the flag set that the
// process launcher (C9) later passes to clone, grounded on the teacher's
// CONTAINER_FLAGS constant in src/minimega/container.go.
package nsconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sandia-rt/rt-containers/internal/rterrors"
)

// CloneFlags is the combined set of namespace flags requested for every
// container: PID, MNT, UTS, IPC, USER, and NET.
const CloneFlags = unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC | unix.CLONE_NEWUSER | unix.CLONE_NEWNET

// Domain is the fixed UTS domain name for every container.
const Domain = "container.local"

// IPCShmMaxBytes is the recorded shared-memory limit for the IPC
// namespace config (informational; enforced by the cgroup driver).
const IPCShmMaxBytes = 64 * 1024 * 1024

// Plan is the full six-namespace declaration for one container.
type Plan struct {
	Name       string
	RootfsPath string
	InitPath   string
	InitArgs   []string
	Hostname   string
	CallerUID  int
	CallerGID  int
}

// MountStep describes one entry of the MNT namespace's mount plan.
type MountStep struct {
	Source string
	Target string
	FSType string
}

// Build produces the conf-file contents for every namespace type. Keys
// are written in stable order so the files are reproducible.
func Build(p Plan) map[string][]KV {
	hostname := p.Hostname
	if hostname == "" {
		hostname = p.Name
	}

	mounts := []MountStep{
		{Source: p.RootfsPath, Target: p.RootfsPath, FSType: "bind"},
		{Source: "proc", Target: "proc", FSType: "proc"},
		{Source: "sysfs", Target: "sys", FSType: "sysfs"},
		{Source: "devpts", Target: "dev/pts", FSType: "devpts"},
		{Source: "tmpfs", Target: "tmp", FSType: "tmpfs"},
	}

	var mountKVs []KV
	for i, m := range mounts {
		mountKVs = append(mountKVs,
			KV{Key: fmt.Sprintf("mount.%d.source", i), Value: m.Source},
			KV{Key: fmt.Sprintf("mount.%d.target", i), Value: m.Target},
			KV{Key: fmt.Sprintf("mount.%d.fstype", i), Value: m.FSType},
		)
	}

	devices := []string{"null", "zero", "random", "urandom"}

	return map[string][]KV{
		"pid": {
			{Key: "init_pid_inside", Value: "1"},
			{Key: "init_path", Value: p.InitPath},
			{Key: "init_args", Value: strings.Join(p.InitArgs, " ")},
		},
		"mnt": append([]KV{
			{Key: "rootfs_path", Value: p.RootfsPath},
			{Key: "devices", Value: strings.Join(devices, ",")},
		}, mountKVs...),
		"uts": {
			{Key: "hostname", Value: hostname},
			{Key: "domainname", Value: Domain},
		},
		"ipc": {
			{Key: "shm_max_bytes", Value: fmt.Sprintf("%d", IPCShmMaxBytes)},
			{Key: "sem_limit", Value: "default"},
			{Key: "msgqueue_limit", Value: "default"},
		},
		"user": {
			{Key: "uid_map", Value: fmt.Sprintf("0 %d 1", p.CallerUID)},
			{Key: "gid_map", Value: fmt.Sprintf("0 %d 1", p.CallerGID)},
		},
		"net": {
			{Key: "netns", Value: "container-" + p.Name},
		},
	}
}

// KV is one key=value line of a namespace conf file.
type KV struct {
	Key   string
	Value string
}

// Write persists every namespace conf file under dir/namespaces/<type>.conf.
func Write(dir string, plan Plan) error {
	nsDir := filepath.Join(dir, "namespaces")
	if err := os.MkdirAll(nsDir, 0755); err != nil {
		return rterrors.New(rterrors.Filesystem, "nsconfig.write", err).WithInput(nsDir)
	}

	confs := Build(plan)

	var types []string
	for t := range confs {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		path := filepath.Join(nsDir, t+".conf")
		var sb strings.Builder
		for _, kv := range confs[t] {
			fmt.Fprintf(&sb, "%s=%s\n", kv.Key, kv.Value)
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
			return rterrors.New(rterrors.Filesystem, "nsconfig.write", err).WithInput(path)
		}
	}

	return nil
}

// Remove deletes the namespace directory for a container (teardown).
func Remove(dir string) error {
	nsDir := filepath.Join(dir, "namespaces")
	if err := os.RemoveAll(nsDir); err != nil {
		return rterrors.New(rterrors.Filesystem, "nsconfig.remove", err).WithInput(nsDir)
	}
	return nil
}

// Read parses an existing <type>.conf file back into KV pairs.
func Read(dir, nsType string) ([]KV, error) {
	path := filepath.Join(dir, "namespaces", nsType+".conf")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rterrors.New(rterrors.Filesystem, "nsconfig.read", err).WithInput(path)
	}

	var kvs []KV
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		kvs = append(kvs, KV{Key: parts[0], Value: parts[1]})
	}
	return kvs, nil
}
