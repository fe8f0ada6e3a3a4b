// Package orchestrator implements the container lifecycle orchestrator
// (C10): the create -> run -> delete state machine that drives C5-C9
// under the rollback stack (C3) and owns the metadata file while an
// operation is in flight. Grounded on src/minimega/vm.go's BaseVM
// lifecycle/setState and src/minimega/vmlist.go's best-effort
// multi-resource teardown (VMs.Kill/.Flush/.CleanDirs, which count
// failures rather than aborting), generalized from minimega's VM registry
// to this spec's per-container directory tree.
package orchestrator

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/ipalloc"
	"github.com/sandia-rt/rt-containers/internal/launcher"
	"github.com/sandia-rt/rt-containers/internal/network"
	"github.com/sandia-rt/rt-containers/internal/nsconfig"
	"github.com/sandia-rt/rt-containers/internal/registry"
	"github.com/sandia-rt/rt-containers/internal/rollback"
	"github.com/sandia-rt/rt-containers/internal/rootfs"
	"github.com/sandia-rt/rt-containers/internal/rterrors"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
	"github.com/sandia-rt/rt-containers/internal/validate"
)

// Interrupted is polled between steps; the signal handler installed by
// cmd/rt-containers sets it on SIGINT/SIGTERM, per §4.3/§5's cooperative
// cancellation model.
var Interrupted int32

func SetInterrupted() {
	atomic.StoreInt32(&Interrupted, 1)
}

func ClearInterrupted() {
	atomic.StoreInt32(&Interrupted, 0)
}

func isInterrupted() bool {
	return atomic.LoadInt32(&Interrupted) == 1
}

// ErrInterrupted is returned when an operation is cancelled mid-flight.
var ErrInterrupted = fmt.Errorf("operation interrupted")

// Orchestrator drives the lifecycle of containers rooted at BasePath.
type Orchestrator struct {
	BasePath  string
	IPs       *ipalloc.Allocator
	CgroupDrv *cgroup.Driver
}

// New builds an Orchestrator, rebuilding the IP allocator from on-disk
// metadata (the directory tree is authoritative; the allocator is a
// transient per-process cache, per Open Question decision #2).
func New(basePath string, cgroupDrv *cgroup.Driver) (*Orchestrator, error) {
	o := &Orchestrator{
		BasePath:  basePath,
		IPs:       ipalloc.New(),
		CgroupDrv: cgroupDrv,
	}

	metas, err := registry.List(basePath)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		if m.Network.IPAddress != "" {
			if err := o.IPs.Restore(m.Name, m.Network.IPAddress); err != nil {
				rtlog.WithField("name", m.Name).Warn("orchestrator: could not restore IP binding, continuing")
			}
		}
	}

	return o, nil
}

func (o *Orchestrator) dir(name string) string {
	return registry.Dir(o.BasePath, name)
}

// hashCollides reports the name of any live container whose veth hash
// suffix (network.HashSuffix) matches name's, per §3's invariant that a
// 6-char hash collision between two live containers is a validation
// failure rather than a silently-clobbered interface name.
func (o *Orchestrator) hashCollides(name string) (string, error) {
	metas, err := registry.List(o.BasePath)
	if err != nil {
		return "", err
	}
	suffix := network.HashSuffix(name)
	for _, m := range metas {
		if m.Name != name && network.HashSuffix(m.Name) == suffix {
			return m.Name, nil
		}
	}
	return "", nil
}

func (o *Orchestrator) checkInterrupt(stack *rollback.Stack) error {
	if isInterrupted() {
		stack.Unwind()
		return ErrInterrupted
	}
	return nil
}

// Create runs the eight-step create sequence of §4.10, pushing an undo
// for every mutation and unwinding them all on any failure.
func (o *Orchestrator) Create(name string, memMB, cpuPct int, hostname string) (registry.Metadata, error) {
	var meta registry.Metadata

	if err := validate.ContainerName(name); err != nil {
		return meta, err
	}
	if err := validate.MemoryMB(memMB); err != nil {
		return meta, err
	}
	if err := validate.CPUPercent(cpuPct); err != nil {
		return meta, err
	}
	if registry.Exists(o.BasePath, name) {
		return meta, rterrors.Newf(rterrors.Validation, "orchestrator.create",
			"container already exists").WithInput(name)
	}
	if collidesWithLive, err := o.hashCollides(name); err != nil {
		return meta, err
	} else if collidesWithLive != "" {
		return meta, rterrors.Newf(rterrors.Validation, "orchestrator.create",
			"veth hash suffix %s collides with live container %q", network.HashSuffix(name), collidesWithLive).WithInput(name)
	}
	if hostname != "" {
		if err := validate.Hostname(hostname); err != nil {
			hostname = "" // fall back to the container name per §4.5
		}
	}

	stack := rollback.New()
	dir := o.dir(name)

	// 1. directory tree
	if err := registry.Save(dir, registry.Metadata{Name: name}); err != nil {
		return meta, rterrors.New(rterrors.Filesystem, "orchestrator.create.mkdir", err).WithInput(dir)
	}
	stack.Push("remove container directory", func() error { return registry.Remove(dir) })
	if err := o.checkInterrupt(stack); err != nil {
		return meta, err
	}

	// 2. allocate IP
	ip, err := o.IPs.Allocate(name)
	if err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Push("release ip", func() error { o.IPs.Release(name); return nil })
	if err := o.checkInterrupt(stack); err != nil {
		return meta, err
	}

	// 3. initial metadata stub
	ep := network.NamesFor(name)
	meta = registry.Metadata{
		Name:    name,
		Created: registry.NowUTC(),
		Status:  registry.StatusCreating,
		Resources: registry.Resources{
			MemoryMB:      memMB,
			CPUPercentage: cpuPct,
		},
		Network: registry.Network{
			IPAddress:     ip,
			VethHost:      ep.VethHost,
			VethContainer: ep.VethPeer,
		},
		Rootfs: filepath.Join(dir, "rootfs"),
		Logs:   filepath.Join(dir, "logs", "container.log"),
	}
	if err := registry.Save(dir, meta); err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Push("remove metadata", func() error { return registry.Remove(dir) })
	if err := o.checkInterrupt(stack); err != nil {
		return meta, err
	}

	// 4. rootfs
	if err := rootfs.Provision(meta.Rootfs); err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Push("wipe rootfs", func() error { return rootfs.Wipe(meta.Rootfs) })
	if err := o.checkInterrupt(stack); err != nil {
		return meta, err
	}

	// 5. namespaces
	plan := nsconfig.Plan{
		Name:       name,
		RootfsPath: meta.Rootfs,
		InitPath:   "/bin/busybox",
		InitArgs:   []string{"sh"},
		Hostname:   hostname,
	}
	if err := nsconfig.Write(dir, plan); err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Push("remove namespace config", func() error { return nsconfig.Remove(dir) })
	meta.Namespaces = registry.Namespaces{
		PID: "new", Net: ep.Netns, Mnt: "new", UTS: "new", IPC: "new", User: "new",
	}
	if err := o.checkInterrupt(stack); err != nil {
		return meta, err
	}

	// 6. network
	endpoints, err := network.Create(name, ip)
	if err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Push("teardown network", func() error {
		if network.Destroy(endpoints) > 0 {
			return fmt.Errorf("network teardown had failures")
		}
		return nil
	})
	if err := o.checkInterrupt(stack); err != nil {
		return meta, err
	}

	// 7. cgroups
	cgPaths, err := o.CgroupDrv.Create(name, memMB, cpuPct)
	if err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Push("teardown cgroups", func() error {
		if o.CgroupDrv.Destroy(cgPaths) > 0 {
			return fmt.Errorf("cgroup teardown had failures")
		}
		return nil
	})
	meta.Cgroups = registry.Cgroups{Memory: cgPaths.Memory, CPU: cgPaths.CPU}

	// 8. status=created, clear rollback stack
	meta.Status = registry.StatusCreated
	if err := registry.Save(dir, meta); err != nil {
		stack.Unwind()
		return meta, err
	}
	stack.Clear()

	return meta, nil
}

// Run requires status=created and transitions created -> running -> stopped
// via the process launcher; launcher failure marks the container failed
// without destructive rollback (it can be deleted or re-run).
func (o *Orchestrator) Run(name string, cmd []string, interactive bool) (registry.Metadata, error) {
	dir := o.dir(name)
	meta, err := registry.Load(dir)
	if err != nil {
		return meta, err
	}
	if meta.Status != registry.StatusCreated && meta.Status != registry.StatusStopped {
		return meta, rterrors.Newf(rterrors.Validation, "orchestrator.run",
			"container must be in created or stopped state, got %s", meta.Status).WithInput(name)
	}

	initPath := filepath.Join(meta.Rootfs, "bin", "busybox")
	initArgs := []string{"sh"}
	if len(cmd) > 0 {
		initArgs = cmd[1:]
		initPath = filepath.Join(meta.Rootfs, cmd[0])
	}

	req := launcher.Request{
		Name:        name,
		RootfsPath:  meta.Rootfs,
		InitPath:    initPath,
		InitArgs:    initArgs,
		Netns:       "container-" + name,
		Interactive: interactive,
		LogPath:     meta.Logs,
		AttachPID: func(pid int) error {
			if err := o.CgroupDrv.Attach(cgroup.Paths{Memory: meta.Cgroups.Memory, CPU: meta.Cgroups.CPU}, pid); err != nil {
				return err
			}
			return launcher.WritePID(dir, pid)
		},
	}

	result, err := launcher.Launch(req)
	if err != nil {
		meta.Status = registry.StatusFailed
		registry.Save(dir, meta)
		return meta, rterrors.New(rterrors.Process, "orchestrator.run", err).WithInput(name)
	}

	meta.PID = result.PID
	meta.Status = registry.StatusRunning
	if err := registry.Save(dir, meta); err != nil {
		return meta, err
	}

	if interactive {
		launcher.RemovePID(dir)
		meta.PID = 0
		meta.Status = registry.StatusStopped
		registry.Save(dir, meta)
	}

	return meta, nil
}

// Delete tears down a container's resources best-effort and removes its
// directory. If running and not force, returns a ValidationError.
func (o *Orchestrator) Delete(name string, force bool) (int, error) {
	dir := o.dir(name)
	meta, err := registry.Load(dir)
	if err != nil {
		return 0, err
	}

	if meta.Status == registry.StatusRunning && !force {
		return 0, rterrors.Newf(rterrors.Validation, "orchestrator.delete",
			"container is running; use --force").WithInput(name)
	}

	failures := 0

	if meta.PID != 0 && launcher.Alive(meta.PID) {
		launcher.Stop(meta.PID, 10*time.Second)
	}

	ep := network.Endpoints{
		Netns:    "container-" + name,
		VethHost: meta.Network.VethHost,
		VethPeer: meta.Network.VethContainer,
		IP:       meta.Network.IPAddress,
	}
	failures += network.Destroy(ep)

	if meta.Cgroups.Memory != "" {
		failures += o.CgroupDrv.Destroy(cgroup.Paths{Memory: meta.Cgroups.Memory, CPU: meta.Cgroups.CPU})
	}

	if err := nsconfig.Remove(dir); err != nil {
		failures++
	}

	o.IPs.Release(name)

	if err := registry.Remove(dir); err != nil {
		failures++
	}

	return failures, nil
}

// Pause freezes a running container's cgroup without destroying the
// process (supplemented feature, SPEC_FULL.md section C).
func (o *Orchestrator) Pause(name string) error {
	dir := o.dir(name)
	meta, err := registry.Load(dir)
	if err != nil {
		return err
	}
	if meta.Status != registry.StatusRunning {
		return rterrors.Newf(rterrors.Validation, "orchestrator.pause",
			"container must be running").WithInput(name)
	}

	if err := o.CgroupDrv.Freeze(cgroup.Paths{Memory: meta.Cgroups.Memory, CPU: meta.Cgroups.CPU}); err != nil {
		return err
	}

	meta.Status = registry.StatusStopped // paused is represented as stopped-with-live-pid; reporter distinguishes via PID liveness
	return registry.Save(dir, meta)
}

// Resume thaws a paused container's cgroup.
func (o *Orchestrator) Resume(name string) error {
	dir := o.dir(name)
	meta, err := registry.Load(dir)
	if err != nil {
		return err
	}

	if err := o.CgroupDrv.Thaw(cgroup.Paths{Memory: meta.Cgroups.Memory, CPU: meta.Cgroups.CPU}); err != nil {
		return err
	}

	meta.Status = registry.StatusRunning
	return registry.Save(dir, meta)
}
