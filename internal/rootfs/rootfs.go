// Package rootfs implements the rootfs provisioner (C6): it builds the
// minimal directory skeleton, populates /etc, places a multi-call busybox
// binary (or a thin dispatcher script when none is available), creates
// conventional device nodes, and is idempotent on re-run. Grounded on
// src/minimega/container.go's containerSetupRoot / containerMountDefaults
// / containerMknodDevices / containerSymlinks / containerPtmx, generalized
// from "mount into an already-running mount namespace" to "populate a
// directory tree before the namespace exists", since here the shape of the
// tree is built by the orchestrator on the host side before C9 ever
// unshares anything.
package rootfs

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/sandia-rt/rt-containers/internal/rterrors"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
)

// skeleton is the directory tree created under every rootfs.
var skeleton = []string{
	"bin", "sbin", "usr/bin", "usr/sbin",
	"proc", "sys", "dev", "dev/pts", "tmp", "var", "etc",
}

// BusyboxCandidates are host paths searched, in order, for a
// statically-linked multi-call binary to copy into bin/busybox.
var BusyboxCandidates = []string{
	"/bin/busybox",
	"/usr/bin/busybox",
	"/sbin/busybox",
}

// Applets is the conventional small-utility command set symlinked at
// busybox inside the rootfs.
var Applets = []string{
	"sh", "ls", "cat", "echo", "mkdir", "rm", "cp", "mv", "ps",
	"mount", "umount", "grep", "sed", "kill", "sleep", "ln", "chmod",
}

// Dev describes one device node to create under dev/.
type Dev struct {
	Name  string
	Major uint32
	Minor uint32
	Mode  uint32 // permission bits, S_IFCHR/S_IFBLK added by Provision
}

var devices = []Dev{
	{Name: "null", Major: 1, Minor: 3, Mode: 0666},
	{Name: "zero", Major: 1, Minor: 5, Mode: 0666},
	{Name: "random", Major: 1, Minor: 8, Mode: 0666},
	{Name: "urandom", Major: 1, Minor: 9, Mode: 0666},
}

// Provision builds (or completes) the rootfs tree at path. Every step
// checks for prior completion first, so re-running over an existing
// rootfs only performs the missing work.
func Provision(path string) error {
	rtlog.WithField("rootfs", path).Info("provisioning rootfs")

	for _, d := range skeleton {
		dir := filepath.Join(path, d)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return rterrors.New(rterrors.Filesystem, "rootfs.provision", err).WithInput(dir)
		}
	}

	if err := writeEtcFiles(path); err != nil {
		return err
	}

	if err := provisionBusybox(path); err != nil {
		return err
	}

	if err := makeDeviceNodes(path); err != nil {
		return err
	}

	return nil
}

func writeEtcFiles(path string) error {
	files := map[string]string{
		"etc/passwd":      "root:x:0:0:root:/root:/bin/sh\n",
		"etc/group":       "root:x:0:\n",
		"etc/hosts":       "127.0.0.1\tlocalhost\n::1\tlocalhost\n",
		"etc/resolv.conf": "nameserver 8.8.8.8\n",
	}

	for rel, contents := range files {
		p := filepath.Join(path, rel)
		if exists(p) {
			continue
		}
		if err := os.WriteFile(p, []byte(contents), 0644); err != nil {
			return rterrors.New(rterrors.Filesystem, "rootfs.etc", err).WithInput(p)
		}
	}

	return nil
}

func provisionBusybox(path string) error {
	target := filepath.Join(path, "bin", "busybox")
	if exists(target) {
		return ensureApplets(path)
	}

	for _, candidate := range BusyboxCandidates {
		if exists(candidate) {
			data, err := os.ReadFile(candidate)
			if err != nil {
				continue
			}
			if err := os.WriteFile(target, data, 0755); err != nil {
				return rterrors.New(rterrors.Filesystem, "rootfs.busybox", err).WithInput(target)
			}
			return ensureApplets(path)
		}
	}

	// no static binary available on the host: synthesize a thin
	// dispatcher script that forwards to host tools with the same name.
	dispatcher := "#!/bin/sh\ncmd=\"$(basename \"$0\")\"\nexec \"/usr/bin/env\" \"$cmd\" \"$@\"\n"
	if err := os.WriteFile(target, []byte(dispatcher), 0755); err != nil {
		return rterrors.New(rterrors.Filesystem, "rootfs.busybox", err).WithInput(target)
	}

	return ensureApplets(path)
}

func ensureApplets(path string) error {
	for _, applet := range Applets {
		link := filepath.Join(path, "bin", applet)
		if exists(link) {
			continue
		}
		if err := os.Symlink("busybox", link); err != nil {
			return rterrors.New(rterrors.Filesystem, "rootfs.applet", err).WithInput(link)
		}
	}
	return nil
}

func makeDeviceNodes(path string) error {
	for _, d := range devices {
		p := filepath.Join(path, "dev", d.Name)
		if exists(p) {
			continue
		}

		devNum := int(unix.Mkdev(d.Major, d.Minor))
		if err := unix.Mknod(p, d.Mode|unix.S_IFCHR, devNum); err != nil {
			return rterrors.New(rterrors.Filesystem, "rootfs.mknod", err).WithInput(p)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Wipe removes the entire rootfs tree -- the rollback undo for Provision.
func Wipe(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return rterrors.New(rterrors.Filesystem, "rootfs.wipe", err).WithInput(path)
	}
	return nil
}
