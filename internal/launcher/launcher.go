// Package launcher implements the process launcher (C9): fork a child
// that requests the five non-network namespaces plus the network
// namespace C8 already prepared, chroot it into the rootfs, and exec the
// init command. Grounded on src/minimega/container.go's
// containerShim/Launch fd-passing protocol (a sync pipe the child closes
// to signal "ready", a second pipe the parent closes to release it) and
// containerSetCapabilities' bounding-set drop via PR_CAPBSET_DROP; the
// child-side netns wait is grounded on the creotiv-toy-docker
// waitForChildNetns pattern (poll /proc/<pid>/ns/net until it diverges
// from the host's).
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/kr/pty"
	"golang.org/x/sys/unix"

	"github.com/sandia-rt/rt-containers/internal/nsconfig"
	"github.com/sandia-rt/rt-containers/internal/rterrors"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
)

// ReexecEnv is the environment variable that signals this process should
// run as the container-side init shim rather than the orchestrator.
const ReexecEnv = "RT_CONTAINERS_SHIM"

// DefaultCaps is the fixed, non-configurable capability bounding set
// dropped to for every launched init process (supplemented feature,
// §SPEC_FULL.md C) -- carried forward from the teacher's DEFAULT_CAPS.
var DefaultCaps = []string{
	"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER",
	"CAP_MKNOD", "CAP_NET_RAW", "CAP_SETGID", "CAP_SETUID",
	"CAP_SETFCAP", "CAP_SETPCAP", "CAP_NET_BIND_SERVICE",
	"CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_WRITE", "CAP_NET_ADMIN",
	"CAP_DAC_READ_SEARCH", "CAP_AUDIT_CONTROL",
}

// Request describes one launch.
type Request struct {
	Name        string
	RootfsPath  string
	InitPath    string
	InitArgs    []string
	Netns       string
	Interactive bool
	LogPath     string
	AttachPID   func(pid int) error
}

// Result is returned on a successful launch.
type Result struct {
	PID int
	Cmd *exec.Cmd
}

// Launch forks the container's init process and, in the parent, calls
// back AttachPID once the child PID is known, then either waits
// (interactive) or returns immediately (detached) per §4.9.
func Launch(req Request) (Result, error) {
	self, err := os.Executable()
	if err != nil {
		return Result{}, rterrors.New(rterrors.Process, "launcher.self", err)
	}

	args := []string{self, "__shim", req.Name, req.RootfsPath, req.InitPath}
	args = append(args, req.InitArgs...)

	cmd := &exec.Cmd{
		Path: self,
		Args: args,
		Env:  append(os.Environ(), ReexecEnv+"=1"),
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: uintptr(nsconfig.CloneFlags),
		},
	}

	var ptmx *os.File
	if req.Interactive {
		var tty *os.File
		ptmx, tty, err = pty.Open()
		if err != nil {
			return Result{}, rterrors.New(rterrors.Process, "launcher.pty", err)
		}
		defer tty.Close()
		cmd.Stdin = tty
		cmd.Stdout = tty
		cmd.Stderr = tty
	} else {
		logFile, err := os.OpenFile(req.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return Result{}, rterrors.New(rterrors.Process, "launcher.logfile", err).WithInput(req.LogPath)
		}
		defer logFile.Close()
		cmd.Stdin = nil
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return Result{}, rterrors.New(rterrors.Process, "launcher.start", err)
	}

	pid := cmd.Process.Pid
	rtlog.WithFields(map[string]interface{}{"name": req.Name, "pid": pid}).Info("launcher: started container init")

	if err := waitForChildNetns(pid); err != nil {
		cmd.Process.Kill()
		return Result{}, rterrors.New(rterrors.Process, "launcher.netns_wait", err)
	}

	if req.AttachPID != nil {
		if err := req.AttachPID(pid); err != nil {
			cmd.Process.Kill()
			return Result{}, err
		}
	}

	if req.Interactive {
		ptmx.Close()
		if err := cmd.Wait(); err != nil {
			rtlog.WithField("name", req.Name).Debug("launcher: init exited non-zero")
		}
	}

	return Result{PID: pid, Cmd: cmd}, nil
}

// waitForChildNetns polls /proc/<pid>/ns/net until it diverges from the
// parent's own net namespace, confirming unshare(CLONE_NEWNET) has taken
// effect before the caller moves a veth peer into it.
func waitForChildNetns(pid int) error {
	hostNetns, err := os.Readlink("/proc/self/ns/net")
	if err != nil {
		return fmt.Errorf("read host netns: %w", err)
	}

	target := fmt.Sprintf("/proc/%d/ns/net", pid)
	for i := 0; i < 50; i++ {
		childNetns, err := os.Readlink(target)
		if err == nil && childNetns != hostNetns {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for child netns for pid %d", pid)
}

// RunShim is the entry point executed inside the new namespaces (invoked
// via the `__shim` hidden subcommand after Cloneflags has unshared them).
// It binds the rootfs over itself, mounts procfs/sysfs/devpts/tmpfs,
// chroots, drops capabilities, then execs the init command.
func RunShim(name, rootfsPath, initPath string, initArgs []string) error {
	if err := unix.Sethostname([]byte(name)); err != nil {
		rtlog.WithField("name", name).Warn("shim: sethostname failed, continuing")
	}

	if err := mountDefaults(rootfsPath); err != nil {
		return err
	}

	if err := unix.Chdir(rootfsPath); err != nil {
		return fmt.Errorf("chdir rootfs: %w", err)
	}
	if err := unix.Chroot("."); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}

	if err := dropCapabilities(); err != nil {
		rtlog.Warn("shim: dropping capabilities failed, continuing: " + err.Error())
	}

	argv := append([]string{initPath}, initArgs...)
	return syscall.Exec(initPath, argv, os.Environ())
}

func mountDefaults(rootfsPath string) error {
	if err := unix.Mount(rootfsPath, rootfsPath, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind rootfs onto itself: %w", err)
	}

	mounts := []struct {
		source, target, fstype string
		flags                  uintptr
		data                   string
	}{
		{"proc", "proc", "proc", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, ""},
		{"sysfs", "sys", "sysfs", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, ""},
		{"devpts", "dev/pts", "devpts", unix.MS_NOEXEC | unix.MS_NOSUID, ""},
		{"tmpfs", "tmp", "tmpfs", unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV, ""},
	}

	for _, m := range mounts {
		target := filepath.Join(rootfsPath, m.target)
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", target, err)
		}
		if err := unix.Mount(m.source, target, m.fstype, m.flags, m.data); err != nil {
			return fmt.Errorf("mount %s: %w", target, err)
		}
	}

	return nil
}

func dropCapabilities() error {
	const lastCap = 40
	for i := 0; i <= lastCap; i++ {
		if capName(i) != "" && contains(DefaultCaps, capName(i)) {
			continue
		}
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(i), 0, 0, 0); err != nil {
			if err == unix.EINVAL {
				continue
			}
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// capName maps a bit index to its symbolic name for the entries this
// runtime cares about keeping; unnamed bits are always dropped.
func capName(bit int) string {
	names := map[int]string{
		0: "CAP_CHOWN", 1: "CAP_DAC_OVERRIDE", 3: "CAP_FOWNER", 4: "CAP_FSETID",
		5: "CAP_KILL", 6: "CAP_SETGID", 7: "CAP_SETUID", 8: "CAP_SETPCAP",
		10: "CAP_NET_BIND_SERVICE", 12: "CAP_NET_ADMIN", 13: "CAP_NET_RAW",
		2: "CAP_DAC_READ_SEARCH", 18: "CAP_SYS_CHROOT", 27: "CAP_MKNOD",
		29: "CAP_AUDIT_WRITE", 30: "CAP_AUDIT_CONTROL", 31: "CAP_SETFCAP",
	}
	return names[bit]
}

// WritePID persists the init PID to <dir>/container.pid.
func WritePID(dir string, pid int) error {
	path := filepath.Join(dir, "container.pid")
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}

// RemovePID removes the PID file, called when the init process exits.
func RemovePID(dir string) error {
	return os.Remove(filepath.Join(dir, "container.pid"))
}

// ReadPID reads the recorded PID, or 0 if none/not running.
func ReadPID(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, "container.pid"))
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(string(data))
	return n
}

// Alive reports whether pid is a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Stop sends SIGTERM, waits up to grace for exit, then SIGKILLs.
func Stop(pid int, grace time.Duration) {
	if !Alive(pid) {
		return
	}
	unix.Kill(pid, unix.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if Alive(pid) {
		unix.Kill(pid, unix.SIGKILL)
	}
}
