// Package audit implements the security-audit subcommand's backing
// component: a read-only check of ownership/mode bits on a container's
// directory tree, metadata file, rootfs, and cgroup paths against the
// expected baseline, plus a report of the capability bounding set the
// container's init would run under. Grounded on the teacher's
// containerSetCapabilities/capget pattern in src/minimega/container.go,
// retargeted from "compute and apply a bounding set" to "report what the
// bounding set and on-disk permissions currently are." Purely read-only:
// no mutation, so it carries no rollback entries.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sandia-rt/rt-containers/internal/launcher"
	"github.com/sandia-rt/rt-containers/internal/registry"
)

// Finding is one mismatch between expected and observed permission state.
type Finding struct {
	Path     string
	Expected string
	Observed string
}

// Report is the result of auditing one container.
type Report struct {
	Name         string
	Findings     []Finding
	Capabilities []string
}

const (
	expectedDirMode  = 0755
	expectedFileMode = 0644
)

// Container audits one container's on-disk permission state.
func Container(basePath, name string) (Report, error) {
	r := Report{Name: name, Capabilities: launcher.DefaultCaps}

	dir := registry.Dir(basePath, name)
	meta, err := registry.Load(dir)
	if err != nil {
		return r, err
	}

	r.Findings = append(r.Findings, checkMode(dir, expectedDirMode)...)
	r.Findings = append(r.Findings, checkMode(registry.ConfigPath(dir), expectedFileMode)...)

	if meta.Rootfs != "" {
		r.Findings = append(r.Findings, checkMode(meta.Rootfs, expectedDirMode)...)
	}
	if meta.Cgroups.Memory != "" {
		r.Findings = append(r.Findings, checkRootOwned(meta.Cgroups.Memory)...)
	}
	if meta.Cgroups.CPU != "" && meta.Cgroups.CPU != meta.Cgroups.Memory {
		r.Findings = append(r.Findings, checkRootOwned(meta.Cgroups.CPU)...)
	}

	return r, nil
}

// System audits every container under basePath.
func System(basePath string) ([]Report, error) {
	metas, err := registry.List(basePath)
	if err != nil {
		return nil, err
	}
	var reports []Report
	for _, m := range metas {
		r, err := Container(basePath, m.Name)
		if err != nil {
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func checkMode(path string, expected os.FileMode) []Finding {
	info, err := os.Stat(path)
	if err != nil {
		return []Finding{{Path: path, Expected: expected.String(), Observed: "missing: " + err.Error()}}
	}
	if info.Mode().Perm() != expected {
		return []Finding{{
			Path:     path,
			Expected: expected.String(),
			Observed: info.Mode().Perm().String(),
		}}
	}
	return nil
}

func checkRootOwned(path string) []Finding {
	info, err := os.Stat(path)
	if err != nil {
		return []Finding{{Path: path, Expected: "root-owned", Observed: "missing: " + err.Error()}}
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if st.Uid != 0 {
		return []Finding{{Path: path, Expected: "uid 0", Observed: fmt.Sprintf("uid %d", st.Uid)}}
	}
	return nil
}

// Render formats a report as a short text listing, one line per finding.
func Render(r Report) string {
	if len(r.Findings) == 0 {
		return fmt.Sprintf("%s: no findings (%d capabilities retained)\n", r.Name, len(r.Capabilities))
	}
	out := fmt.Sprintf("%s: %d finding(s)\n", r.Name, len(r.Findings))
	for _, f := range r.Findings {
		out += fmt.Sprintf("  %s: expected %s, observed %s\n", filepath.Clean(f.Path), f.Expected, f.Observed)
	}
	return out
}
