// Package reporter implements the resource reporter (C12): per-container
// cgroup usage with severity bands, a live PID listing, and a topology
// rendering of host/container/veth adjacency. Grounded on
// src/minimega/proc.go's GetProcStats/ListChildren (walking
// /proc/<pid>/task/<pid>/children and reading ProcessStat via goprocinfo
// for short command names), adapted here from per-process accounting to
// the cgroup-counter-file accounting described in §4.7/§4.12.
package reporter

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	proc "github.com/c9s/goprocinfo/linux"

	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/launcher"
	"github.com/sandia-rt/rt-containers/internal/registry"
)

// Severity is the usage band assigned to a resource reading.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severity thresholds, percent of limit, per §4.12.
const (
	HighThreshold     = 50.0
	CriticalThreshold = 80.0
)

func classify(pct float64) Severity {
	switch {
	case pct >= CriticalThreshold:
		return SeverityCritical
	case pct >= HighThreshold:
		return SeverityHigh
	default:
		return SeverityNormal
	}
}

// Snapshot is one container's point-in-time resource report.
type Snapshot struct {
	Name            string
	Status          registry.Status
	MemoryUsedBytes int64
	MemoryLimitMB   int
	MemoryPercent   float64
	MemorySeverity  Severity
	CPUUsageNS      int64
	CPUSeverity     Severity
	Processes       []ProcessInfo
}

// ProcessInfo is one live PID inside a container, with a short command
// name the way ProcStats' Comm field reports it.
type ProcessInfo struct {
	PID  int
	Comm string
}

// Reporter reads live usage for containers tracked under BasePath.
type Reporter struct {
	BasePath  string
	CgroupDrv *cgroup.Driver
}

func New(basePath string, cgroupDrv *cgroup.Driver) *Reporter {
	return &Reporter{BasePath: basePath, CgroupDrv: cgroupDrv}
}

// Report builds a Snapshot for one container by name.
func (r *Reporter) Report(name string) (Snapshot, error) {
	dir := registry.Dir(r.BasePath, name)
	meta, err := registry.Load(dir)
	if err != nil {
		return Snapshot{}, err
	}
	return r.reportFor(meta)
}

// ReportAll builds a Snapshot for every known container.
func (r *Reporter) ReportAll() ([]Snapshot, error) {
	metas, err := registry.List(r.BasePath)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, m := range metas {
		s, err := r.reportFor(m)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Reporter) reportFor(meta registry.Metadata) (Snapshot, error) {
	s := Snapshot{
		Name:          meta.Name,
		Status:        meta.Status,
		MemoryLimitMB: meta.Resources.MemoryMB,
	}

	if meta.Cgroups.Memory != "" {
		usage, err := r.CgroupDrv.Read(cgroup.Paths{Memory: meta.Cgroups.Memory, CPU: meta.Cgroups.CPU})
		if err == nil {
			s.MemoryUsedBytes = usage.MemoryUsedBytes
			s.MemoryPercent = usage.MemoryPercent
			s.CPUUsageNS = usage.CPUUsageNS
		}
	}
	s.MemorySeverity = classify(s.MemoryPercent)
	s.CPUSeverity = classify(float64(meta.Resources.CPUPercentage))

	if meta.Status == registry.StatusRunning && meta.PID != 0 && launcher.Alive(meta.PID) {
		s.Processes = listProcesses(meta.PID)
	}

	return s, nil
}

// listProcesses walks the process tree rooted at pid the way
// GetProcStats/ListChildren do, reading each PID's comm field via
// goprocinfo's ProcessStat parser rather than re-parsing /proc/<pid>/stat
// by hand.
func listProcesses(pid int) []ProcessInfo {
	var out []ProcessInfo
	visit := map[int]bool{}

	var walk func(p int)
	walk = func(p int) {
		if visit[p] {
			return
		}
		visit[p] = true

		stat, err := proc.ReadProcessStat(fmt.Sprintf("/proc/%d/stat", p))
		comm := "?"
		if err == nil {
			comm = stat.Comm
		}
		out = append(out, ProcessInfo{PID: p, Comm: comm})

		for _, child := range listChildren(p) {
			walk(child)
		}
	}
	walk(pid)
	return out
}

func listChildren(pid int) []int {
	data, err := ioutil.ReadFile(fmt.Sprintf("/proc/%[1]d/task/%[1]d/children", pid))
	if err != nil {
		return nil
	}
	var children []int
	for _, f := range strings.Fields(string(data)) {
		if n, err := strconv.Atoi(f); err == nil {
			children = append(children, n)
		}
	}
	return children
}

// TopologyNode describes one node in the host/container/veth adjacency
// graph returned by Topology.
type TopologyNode struct {
	Container string
	VethHost  string
	VethPeer  string
	IP        string
	Status    registry.Status
}

// Topology renders the host -> veth-host -> veth-peer -> container
// adjacency for every known container (§4.12's show-topology operation).
func (r *Reporter) Topology() ([]TopologyNode, error) {
	metas, err := registry.List(r.BasePath)
	if err != nil {
		return nil, err
	}

	var nodes []TopologyNode
	for _, m := range metas {
		nodes = append(nodes, TopologyNode{
			Container: m.Name,
			VethHost:  m.Network.VethHost,
			VethPeer:  m.Network.VethContainer,
			IP:        m.Network.IPAddress,
			Status:    m.Status,
		})
	}
	return nodes, nil
}

// Render formats a topology listing as indented text, in the spirit of
// minimega's `.columns` tabular CLI output but simpler: one block per
// container showing its place in the adjacency chain.
func Render(nodes []TopologyNode) string {
	var sb strings.Builder
	sb.WriteString("host\n")
	for _, n := range nodes {
		fmt.Fprintf(&sb, "  %s (%s)\n", n.VethHost, "host-side veth")
		fmt.Fprintf(&sb, "    %s (%s)\n", n.VethPeer, "container-side veth")
		fmt.Fprintf(&sb, "      %s [%s] %s\n", n.Container, n.Status, n.IP)
	}
	return sb.String()
}
