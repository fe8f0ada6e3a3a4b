// Package integrity implements the integrity engine (C11):
// check_corruption, recover, sweep_orphans, and validate_system. Grounded
// on src/minimega/nuke.go's cliNuke/nukeWalker/nukeBridgeNames
// walk-the-base-path-and-remove-what's-unowned pattern, generalized from
// minimega's qemu-pid/bridge sweep to this runtime's veth/netns/cgroup
// orphans, and on src/minimega/proc.go's use of goprocinfo for host
// resource probing (validate_system's memory check).
package integrity

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	proc "github.com/c9s/goprocinfo/linux"

	"golang.org/x/sys/unix"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/launcher"
	"github.com/sandia-rt/rt-containers/internal/network"
	"github.com/sandia-rt/rt-containers/internal/registry"
	"github.com/sandia-rt/rt-containers/internal/rootfs"
	"github.com/sandia-rt/rt-containers/internal/rterrors"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
)

// Report is the result of CheckCorruption for one container.
type Report struct {
	Name    string
	Corrupt bool
	Reasons []string
}

// Engine ties the integrity checks to a container base path and cgroup
// driver, mirroring the Orchestrator's dependency shape.
type Engine struct {
	BasePath  string
	CgroupDrv *cgroup.Driver
}

func New(basePath string, cgroupDrv *cgroup.Driver) *Engine {
	return &Engine{BasePath: basePath, CgroupDrv: cgroupDrv}
}

// CheckCorruption inspects one container's on-disk state against its
// claimed status: a metadata file that cannot be parsed, a "running"
// container whose PID is dead, or missing rootfs/cgroup paths are all
// corruption per §4.11.
func (e *Engine) CheckCorruption(name string) Report {
	r := Report{Name: name}
	dir := registry.Dir(e.BasePath, name)

	meta, err := registry.Load(dir)
	if err != nil {
		r.Corrupt = true
		r.Reasons = append(r.Reasons, "metadata unreadable or invalid: "+err.Error())
		return r
	}

	if _, err := os.Stat(meta.Rootfs); err != nil {
		r.Corrupt = true
		r.Reasons = append(r.Reasons, "rootfs missing: "+meta.Rootfs)
	}

	if meta.Status == registry.StatusRunning {
		if meta.PID == 0 || !launcher.Alive(meta.PID) {
			r.Corrupt = true
			r.Reasons = append(r.Reasons, fmt.Sprintf("status=running but pid %d is not alive", meta.PID))
		}
	}

	if meta.Cgroups.Memory != "" {
		if _, err := os.Stat(meta.Cgroups.Memory); err != nil {
			r.Corrupt = true
			r.Reasons = append(r.Reasons, "cgroup memory path missing: "+meta.Cgroups.Memory)
		}
	}

	return r
}

// CheckAll runs CheckCorruption over every known container.
func (e *Engine) CheckAll() ([]Report, error) {
	metas, err := registry.List(e.BasePath)
	if err != nil {
		return nil, err
	}
	var reports []Report
	for _, m := range metas {
		reports = append(reports, e.CheckCorruption(m.Name))
	}
	return reports, nil
}

// Recover reconciles a corrupt container's metadata with observed reality
// per §4.11: a dead "running" PID moves the container to failed, clears
// the stale container.pid file, and tears down the netns/veth and cgroups
// that dead owner leaves behind; a missing rootfs is reprovisioned from
// scratch rather than merely flagged. Recovery is recorded with a
// timestamp per §6's recovered/recovery_timestamp fields.
func (e *Engine) Recover(name string) (registry.Metadata, error) {
	dir := registry.Dir(e.BasePath, name)
	meta, err := registry.Load(dir)
	if err != nil {
		return meta, err
	}

	changed := false

	if meta.Status == registry.StatusRunning && (meta.PID == 0 || !launcher.Alive(meta.PID)) {
		meta.Status = registry.StatusFailed
		meta.PID = 0
		changed = true

		if err := launcher.RemovePID(dir); err != nil && !os.IsNotExist(err) {
			rtlog.WithField("name", name).Warn("integrity: failed to remove stale pid file: " + err.Error())
		}

		ep := network.Endpoints{
			Netns:    "container-" + name,
			VethHost: meta.Network.VethHost,
			VethPeer: meta.Network.VethContainer,
			IP:       meta.Network.IPAddress,
		}
		network.Destroy(ep)

		if meta.Cgroups.Memory != "" {
			e.CgroupDrv.Destroy(cgroup.Paths{Memory: meta.Cgroups.Memory, CPU: meta.Cgroups.CPU})
		}
	}

	if _, statErr := os.Stat(meta.Rootfs); statErr != nil {
		if meta.Status != registry.StatusFailed {
			meta.Status = registry.StatusFailed
			changed = true
		}
		if err := rootfs.Provision(meta.Rootfs); err != nil {
			rtlog.WithField("name", name).Warn("integrity: failed to reprovision rootfs: " + err.Error())
		} else {
			changed = true
		}
	}

	if changed {
		meta.Recovered = true
		meta.RecoveryTimestamp = registry.NowUTC()
		if err := registry.Save(dir, meta); err != nil {
			return meta, err
		}
		rtlog.WithField("name", name).Info("integrity: recovered container metadata")
	}

	return meta, nil
}

// RecoverAll runs Recover over every container flagged corrupt by CheckAll.
func (e *Engine) RecoverAll() ([]registry.Metadata, error) {
	reports, err := e.CheckAll()
	if err != nil {
		return nil, err
	}

	var recovered []registry.Metadata
	for _, r := range reports {
		if !r.Corrupt {
			continue
		}
		m, err := e.Recover(r.Name)
		if err != nil {
			rtlog.WithField("name", r.Name).Warn("integrity: recover failed: " + err.Error())
			continue
		}
		recovered = append(recovered, m)
	}
	return recovered, nil
}

// SweepOrphans walks the system for veth interfaces, network namespaces,
// and cgroup directories named container-* that have no corresponding
// metadata directory under BasePath, and removes them. Grounded directly
// on nukeWalker's "visit everything, tear down what doesn't belong"
// pattern, retargeted from minimega's bridges/taps to this runtime's
// kernel resources.
func (e *Engine) SweepOrphans() (int, error) {
	known := make(map[string]bool)
	metas, err := registry.List(e.BasePath)
	if err != nil {
		return 0, err
	}
	for _, m := range metas {
		known["container-"+m.Name] = true
	}

	removed := 0
	removed += sweepNetns(known)
	removed += sweepVeths(known)
	removed += e.sweepCgroups(known)

	return removed, nil
}

func sweepNetns(known map[string]bool) int {
	out, err := exec.Command("ip", "netns", "list").Output()
	if err != nil {
		rtlog.Debug("integrity: ip netns list failed, skipping netns sweep")
		return 0
	}

	removed := 0
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if !strings.HasPrefix(name, "container-") {
			continue
		}
		if known[name] {
			continue
		}
		if err := exec.Command("ip", "netns", "del", name).Run(); err != nil {
			rtlog.WithField("netns", name).Warn("integrity: failed to sweep orphan netns")
			continue
		}
		rtlog.WithField("netns", name).Info("integrity: swept orphan netns")
		removed++
	}
	return removed
}

func sweepVeths(known map[string]bool) int {
	out, err := exec.Command("ip", "-o", "link", "show").Output()
	if err != nil {
		rtlog.Debug("integrity: ip link show failed, skipping veth sweep")
		return 0
	}

	ownedSuffix := make(map[string]bool)
	for name := range known {
		short := strings.TrimPrefix(name, "container-")
		ownedSuffix[network.HashSuffix(short)] = true
	}

	removed := 0
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ifname := strings.TrimSuffix(fields[1], ":")
		if !strings.HasPrefix(ifname, "veth-h") {
			continue
		}
		suffix := strings.TrimPrefix(ifname, "veth-h")
		if ownedSuffix[suffix] {
			continue
		}
		if err := exec.Command("ip", "link", "del", ifname).Run(); err != nil {
			rtlog.WithField("veth", ifname).Warn("integrity: failed to sweep orphan veth")
			continue
		}
		rtlog.WithField("veth", ifname).Info("integrity: swept orphan veth")
		removed++
	}
	return removed
}

func (e *Engine) sweepCgroups(known map[string]bool) int {
	removed := 0
	for _, controller := range []string{"memory", "cpu", "freezer", ""} {
		dir := filepath.Join(e.CgroupDrv.Root, controller)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "container-") {
				continue
			}
			if known[entry.Name()] {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			if err := os.Remove(full); err != nil {
				rtlog.WithField("path", full).Warn("integrity: failed to sweep orphan cgroup dir")
				continue
			}
			rtlog.WithField("path", full).Info("integrity: swept orphan cgroup dir")
			removed++
		}
	}
	return removed
}

// StartOrphanReaper runs SweepOrphans on a fixed interval in the
// background until the returned stop function is called (supplemented
// feature, SPEC_FULL.md section C).
func (e *Engine) StartOrphanReaper(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := e.SweepOrphans(); err != nil {
					rtlog.Warn("integrity: orphan reaper sweep failed: " + err.Error())
				} else if n > 0 {
					rtlog.WithField("count", n).Info("integrity: orphan reaper removed resources")
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// SystemReport is the result of ValidateSystem.
type SystemReport struct {
	DiskOK              bool
	MemoryOK            bool
	CgroupOK            bool
	ShellOK             bool
	MemFreeMB           uint64
	MemTotalMB          uint64
	CorruptedContainers []string
	Warnings            []string
}

// minFreeDiskBytes is the §4.11 disk-space floor: at least 100 MiB free
// under the containers root.
const minFreeDiskBytes = 100 * 1024 * 1024

// ValidateSystem runs the host-level preflight checks of §4.11: disk
// space under BasePath, available memory (via /proc/meminfo through
// goprocinfo, the teacher's library of choice for host stats), cgroup
// hierarchy writability, shell binary functionality, and every tracked
// container's corruption state.
func ValidateSystem(basePath string, cgroupDrv *cgroup.Driver) (SystemReport, error) {
	var r SystemReport

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return r, rterrors.New(rterrors.Filesystem, "integrity.validate_system.disk", err).WithInput(basePath)
	}
	r.DiskOK = diskHasSpace(basePath)
	if !r.DiskOK {
		r.Warnings = append(r.Warnings, fmt.Sprintf("fewer than %d MiB free under %s", minFreeDiskBytes/(1024*1024), basePath))
	}

	mem, err := proc.ReadMemInfo("/proc/meminfo")
	if err != nil {
		r.Warnings = append(r.Warnings, "could not read /proc/meminfo: "+err.Error())
	} else {
		r.MemFreeMB = mem.MemFree / 1024
		r.MemTotalMB = mem.MemTotal / 1024
		r.MemoryOK = mem.MemFree > 64*1024 // at least 64MB free, the minimum container memory bound
	}

	if cgroupDrv.Version == cgroup.Unknown {
		r.Warnings = append(r.Warnings, "no usable cgroup hierarchy detected")
	} else {
		r.CgroupOK = true
	}

	r.ShellOK = shellWorks()
	if !r.ShellOK {
		r.Warnings = append(r.Warnings, "no working shell binary found on PATH")
	}

	engine := New(basePath, cgroupDrv)
	reports, err := engine.CheckAll()
	if err != nil {
		r.Warnings = append(r.Warnings, "could not enumerate containers: "+err.Error())
	} else {
		for _, cr := range reports {
			if cr.Corrupt {
				r.CorruptedContainers = append(r.CorruptedContainers, cr.Name)
			}
		}
	}

	return r, nil
}

func diskHasSpace(path string) bool {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return false
	}
	avail := uint64(fs.Bsize) * fs.Bavail
	return avail >= minFreeDiskBytes
}

// shellWorks reports whether a shell binary resolvable from PATH is an
// executable regular file, grounded on the same os/exec.LookPath pattern
// platform.Detect uses for its required-tools check.
func shellWorks() bool {
	path, err := exec.LookPath("sh")
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0111 != 0
}
