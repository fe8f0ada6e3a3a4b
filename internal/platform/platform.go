// Package platform implements the platform probe (C1): OS kind, cgroup
// v1/v2 detection, capability query, and the required-external-tool
// check. Grounded on src/minimega/external.go's defaultExternalProcesses
// map + checkExternal (os/exec.LookPath over a name->binary map, joining
// every miss into one error) and src/bridge/process.go's
// ExternalDependencies list.
package platform

import (
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/rterrors"
)

// RequiredTools are the external binaries every lifecycle operation
// needs: a namespace entry/creation helper, an interface manipulator,
// and mount/unmount.
var RequiredTools = []string{"unshare", "ip", "mount", "umount"}

// Platform is the result of a single Detect() call.
type Platform struct {
	Linux         bool
	CgroupVersion cgroup.Version
	CgroupRoot    string
	HasRoot       bool
	Rootless      bool
	SubUIDOK      bool
	SubGIDOK      bool
	MissingTools  []string
	Warnings      []string
}

// Detect probes the host and returns its Platform. On non-Linux hosts,
// namespace/cgroup operations are disabled and the tool runs in a
// read-only educational mode (Linux=false, everything else zeroed).
func Detect(rootless bool) Platform {
	p := Platform{Linux: runtime.GOOS == "linux"}
	if !p.Linux {
		p.Warnings = append(p.Warnings, "non-Linux host: namespace and cgroup operations are disabled")
		return p
	}

	p.CgroupVersion, p.CgroupRoot = detectCgroupVersion()
	p.HasRoot = os.Geteuid() == 0
	p.Rootless = rootless

	if rootless {
		p.SubUIDOK = fileNonEmpty("/etc/subuid")
		p.SubGIDOK = fileNonEmpty("/etc/subgid")
		if !p.SubUIDOK || !p.SubGIDOK {
			p.Warnings = append(p.Warnings,
				"rootless mode requested but /etc/subuid or /etc/subgid is missing or empty: user-namespace id mapping will be limited to a single uid/gid")
		}
	}

	for _, tool := range RequiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			p.MissingTools = append(p.MissingTools, tool)
		}
	}

	return p
}

// RequireTools returns a DependencyError naming every missing tool, or
// nil if all are present. Lifecycle commands treat a missing tool as a
// hard, fatal-at-startup failure.
func (p Platform) RequireTools() error {
	if len(p.MissingTools) == 0 {
		return nil
	}
	return rterrors.Newf(rterrors.Dependency, "platform.require_tools",
		"missing required tools: %v", p.MissingTools)
}

// RequireRoot returns a PermissionError unless the caller is root or in
// a sufficiently configured rootless mode.
func (p Platform) RequireRoot() error {
	if p.HasRoot {
		return nil
	}
	if p.Rootless && p.SubUIDOK && p.SubGIDOK {
		return nil
	}
	return rterrors.Newf(rterrors.Permission, "platform.require_root",
		"operation requires root, or --rootless with configured sub-uid/sub-gid mappings")
}

func detectCgroupVersion() (cgroup.Version, string) {
	const root = "/sys/fs/cgroup"

	var fs unix.Statfs_t
	if err := unix.Statfs(root, &fs); err == nil {
		if fs.Type == unix.CGROUP2_SUPER_MAGIC {
			return cgroup.V2, root
		}
	}

	memDir := root + "/memory"
	cpuDir := root + "/cpu"
	if writable(memDir) && writable(cpuDir) {
		return cgroup.V1, root
	}

	return cgroup.Unknown, root
}

func writable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(dir, unix.W_OK) == nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
