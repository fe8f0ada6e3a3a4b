// Command rt-containers is the CLI entry point: eleven lifecycle
// subcommands plus two supplemented pause/resume commands and the hidden
// `__shim` re-exec target, wired with cobra the way cuemby-warren's
// cmd/warren/main.go structures its root command, persistent flags, and
// per-subcommand files.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandia-rt/rt-containers/internal/audit"
	"github.com/sandia-rt/rt-containers/internal/cgroup"
	"github.com/sandia-rt/rt-containers/internal/config"
	"github.com/sandia-rt/rt-containers/internal/integrity"
	"github.com/sandia-rt/rt-containers/internal/launcher"
	"github.com/sandia-rt/rt-containers/internal/orchestrator"
	"github.com/sandia-rt/rt-containers/internal/platform"
	"github.com/sandia-rt/rt-containers/internal/registry"
	"github.com/sandia-rt/rt-containers/internal/reporter"
	"github.com/sandia-rt/rt-containers/internal/rterrors"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
)

var (
	flagVerbose  bool
	flagDebug    bool
	flagMonitor  bool
	flagRootless bool
)

func main() {
	// __shim never goes through cobra: it is invoked by launcher.Launch
	// with a fixed argv shape after Cloneflags has already unshared the
	// namespaces, and must not pay cobra's flag-parsing overhead or risk
	// matching a user's own init args against our flags.
	if len(os.Args) > 1 && os.Args[1] == "__shim" && os.Getenv(launcher.ReexecEnv) == "1" {
		runShim(os.Args[2:])
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func runShim(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "__shim: missing arguments")
		os.Exit(1)
	}
	name, rootfsPath, initPath := args[0], args[1], args[2]
	initArgs := args[3:]
	if err := launcher.RunShim(name, rootfsPath, initPath, initArgs); err != nil {
		fmt.Fprintln(os.Stderr, "__shim:", err)
		os.Exit(1)
	}
}

func exitCodeFor(err error) int {
	if kind, ok := rterrors.KindOf(err); ok {
		return kind.ExitCode()
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "rt-containers",
	Short: "A minimal Linux container runtime for learning namespaces, cgroups, and veth networking",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagMonitor, "monitor", false, "enable background monitoring")
	rootCmd.PersistentFlags().BoolVar(&flagRootless, "rootless", false, "run in rootless mode")

	rootCmd.AddCommand(
		createContainerCmd,
		listContainersCmd,
		runContainerCmd,
		deleteContainerCmd,
		cleanupAllCmd,
		recoverStateCmd,
		validateSystemCmd,
		emergencyCleanupCmd,
		monitorCmd,
		showTopologyCmd,
		securityAuditCmd,
		pauseContainerCmd,
		resumeContainerCmd,
	)
}

func setup() (*orchestrator.Orchestrator, config.Config, platform.Platform, error) {
	cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
	rtlog.SetLevel(rtlog.LevelFromInt(cfg.LogLevel))
	if cfg.Verbose {
		rtlog.SetVerbose(true)
	}

	plat := platform.Detect(cfg.Rootless)
	for _, w := range plat.Warnings {
		rtlog.Warn("platform: " + w)
	}
	if err := plat.RequireTools(); err != nil {
		return nil, cfg, plat, err
	}

	drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)
	orch, err := orchestrator.New(cfg.BasePath, drv)
	if err != nil {
		return nil, cfg, plat, err
	}

	if cfg.Monitoring {
		eng := integrity.New(cfg.BasePath, drv)
		eng.StartOrphanReaper(orphanReapInterval)
		rtlog.Debug("monitoring: orphan reaper started")
	}

	return orch, cfg, plat, nil
}

// orphanReapInterval is how often the background orphan reaper sweeps
// when monitoring is enabled via --monitor or MONITORING_ENABLED.
const orphanReapInterval = 30 * time.Second

func installSignalHandling() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if sig == syscall.SIGTERM {
			rtlog.Warn("received SIGTERM: running emergency cleanup")
			cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
			drv := cgroup.NewDriver(platform.Detect(cfg.Rootless).CgroupVersion, platform.Detect(cfg.Rootless).CgroupRoot)
			eng := integrity.New(cfg.BasePath, drv)
			eng.SweepOrphans()
			os.Exit(143)
		}
		rtlog.Warn("received SIGINT: rolling back in-flight operation")
		orchestrator.SetInterrupted()
		os.Exit(130)
	}()
}

var createContainerCmd = &cobra.Command{
	Use:   "create-container <name>",
	Short: "create a new container's directories, rootfs, namespaces, network, and cgroups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		installSignalHandling()
		orch, _, plat, err := setup()
		if err != nil {
			return err
		}
		if err := plat.RequireRoot(); err != nil {
			return err
		}

		ram, _ := cmd.Flags().GetInt("ram")
		cpu, _ := cmd.Flags().GetInt("cpu")

		meta, err := orch.Create(args[0], ram, cpu, "")
		if err != nil {
			return err
		}
		fmt.Printf("created container %q (ip=%s)\n", meta.Name, meta.Network.IPAddress)
		return nil
	},
}

func init() {
	createContainerCmd.Flags().Int("ram", 128, "memory limit in MB")
	createContainerCmd.Flags().Int("cpu", 50, "cpu limit as a percentage")
}

var listContainersCmd = &cobra.Command{
	Use:   "list-containers",
	Short: "list known containers from on-disk metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
		metas, err := registry.List(cfg.BasePath)
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("no containers")
			return nil
		}
		fmt.Printf("%-20s %-10s %-14s %-6s %-6s\n", "NAME", "STATUS", "IP", "RAM", "CPU")
		for _, m := range metas {
			fmt.Printf("%-20s %-10s %-14s %-6d %-6d\n",
				m.Name, m.Status, m.Network.IPAddress, m.Resources.MemoryMB, m.Resources.CPUPercentage)
		}
		return nil
	},
}

var runContainerCmd = &cobra.Command{
	Use:   "run-container <name> [command...]",
	Short: "launch a created container's init process",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, plat, err := setup()
		if err != nil {
			return err
		}
		if err := plat.RequireRoot(); err != nil {
			return err
		}

		interactive, _ := cmd.Flags().GetBool("interactive")
		meta, err := orch.Run(args[0], args[1:], interactive)
		if err != nil {
			return err
		}
		fmt.Printf("container %q status=%s pid=%d\n", meta.Name, meta.Status, meta.PID)
		return nil
	},
}

func init() {
	runContainerCmd.Flags().BoolP("interactive", "i", false, "attach a pty and wait for exit")
}

var deleteContainerCmd = &cobra.Command{
	Use:   "delete-container <name>",
	Short: "tear down and remove a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, _, err := setup()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		failures, err := orch.Delete(args[0], force)
		if err != nil {
			return err
		}
		if failures > 0 {
			fmt.Printf("deleted %q with %d teardown failure(s) (see log)\n", args[0], failures)
		} else {
			fmt.Printf("deleted %q\n", args[0])
		}
		return nil
	},
}

func init() {
	deleteContainerCmd.Flags().Bool("force", false, "delete even if the container is running")
}

var cleanupAllCmd = &cobra.Command{
	Use:   "cleanup-all",
	Short: "sweep orphaned resources then delete every tracked container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cfg, plat, err := setup()
		if err != nil {
			return err
		}
		drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)
		eng := integrity.New(cfg.BasePath, drv)

		swept, err := eng.SweepOrphans()
		if err != nil {
			return err
		}
		fmt.Printf("swept %d orphaned resource(s)\n", swept)

		metas, err := registry.List(cfg.BasePath)
		if err != nil {
			return err
		}
		for _, m := range metas {
			if _, err := orch.Delete(m.Name, true); err != nil {
				rtlog.WithField("name", m.Name).Warn("cleanup-all: delete failed: " + err.Error())
			}
		}
		fmt.Printf("deleted %d container(s)\n", len(metas))
		return nil
	},
}

var recoverStateCmd = &cobra.Command{
	Use:   "recover-state [name]",
	Short: "reconcile metadata with observed process/filesystem state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, plat, err := setup()
		if err != nil {
			return err
		}
		drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)
		eng := integrity.New(cfg.BasePath, drv)

		if len(args) == 1 {
			meta, err := eng.Recover(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("recovered=%v status=%s\n", meta.Recovered, meta.Status)
			return nil
		}

		recovered, err := eng.RecoverAll()
		if err != nil {
			return err
		}
		fmt.Printf("recovered %d container(s)\n", len(recovered))
		return nil
	},
}

var validateSystemCmd = &cobra.Command{
	Use:   "validate-system",
	Short: "run host preflight checks: disk, memory, cgroup hierarchy, tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
		plat := platform.Detect(cfg.Rootless)
		drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)

		report, err := integrity.ValidateSystem(cfg.BasePath, drv)
		if err != nil {
			return err
		}

		fmt.Printf("disk ok:    %v\n", report.DiskOK)
		fmt.Printf("memory ok:  %v (%d/%d MB free)\n", report.MemoryOK, report.MemFreeMB, report.MemTotalMB)
		fmt.Printf("cgroup ok:  %v\n", report.CgroupOK)
		fmt.Printf("shell ok:   %v\n", report.ShellOK)
		if err := plat.RequireTools(); err != nil {
			fmt.Println("tools:     ", err)
		} else {
			fmt.Println("tools:      ok")
		}
		if len(report.CorruptedContainers) == 0 {
			fmt.Println("corrupted_containers: none")
		} else {
			fmt.Printf("corrupted_containers: %s\n", strings.Join(report.CorruptedContainers, ", "))
		}
		for _, w := range report.Warnings {
			fmt.Println("warning:   ", w)
		}
		return nil
	},
}

var emergencyCleanupCmd = &cobra.Command{
	Use:   "emergency-cleanup",
	Short: "sweep every orphaned veth, netns, and cgroup on the host (interactive confirm)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Print("This will remove every orphaned container-* resource on the host. Continue? [y/N] ")
			var reply string
			fmt.Scanln(&reply)
			if !strings.EqualFold(strings.TrimSpace(reply), "y") {
				fmt.Println("aborted")
				return nil
			}
		}

		cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
		plat := platform.Detect(cfg.Rootless)
		drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)
		eng := integrity.New(cfg.BasePath, drv)

		swept, err := eng.SweepOrphans()
		if err != nil {
			return err
		}
		fmt.Printf("swept %d orphaned resource(s)\n", swept)
		return nil
	},
}

func init() {
	emergencyCleanupCmd.Flags().Bool("yes", false, "skip the interactive confirmation")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <name> [seconds]",
	Short: "poll a container's cgroup usage at a fixed interval",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
		plat := platform.Detect(cfg.Rootless)
		drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)
		rep := reporter.New(cfg.BasePath, drv)

		interval := 2 * time.Second
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err == nil && n > 0 {
				interval = time.Duration(n) * time.Second
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			snap, err := rep.Report(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%-20s mem=%5.1f%% (%s) cpu=%dns live_procs=%d\n",
				snap.Name, snap.MemoryPercent, snap.MemorySeverity, snap.CPUUsageNS, len(snap.Processes))

			select {
			case <-ticker.C:
				continue
			case <-sigCh:
				return nil
			}
		}
	},
}

var showTopologyCmd = &cobra.Command{
	Use:   "show-topology",
	Short: "render host/container/veth adjacency for every container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)
		plat := platform.Detect(cfg.Rootless)
		drv := cgroup.NewDriver(plat.CgroupVersion, plat.CgroupRoot)
		rep := reporter.New(cfg.BasePath, drv)

		nodes, err := rep.Topology()
		if err != nil {
			return err
		}
		fmt.Print(reporter.Render(nodes))
		return nil
	},
}

var securityAuditCmd = &cobra.Command{
	Use:   "security-audit [all|system|container] [name]",
	Short: "report permission and ownership mismatches against the expected baseline",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load().ApplyFlags(flagVerbose, flagDebug, flagMonitor, flagRootless)

		scope := "all"
		if len(args) >= 1 {
			scope = args[0]
		}

		if scope == "container" {
			if len(args) < 2 {
				return rterrors.Newf(rterrors.Validation, "security-audit", "container scope requires a name")
			}
			r, err := audit.Container(cfg.BasePath, args[1])
			if err != nil {
				return err
			}
			fmt.Print(audit.Render(r))
			return nil
		}

		reports, err := audit.System(cfg.BasePath)
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Print(audit.Render(r))
		}
		return nil
	},
}

var pauseContainerCmd = &cobra.Command{
	Use:   "pause-container <name>",
	Short: "freeze a running container's cgroup without killing its init process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, _, err := setup()
		if err != nil {
			return err
		}
		if err := orch.Pause(args[0]); err != nil {
			return err
		}
		fmt.Printf("paused %q\n", args[0])
		return nil
	},
}

var resumeContainerCmd = &cobra.Command{
	Use:   "resume-container <name>",
	Short: "thaw a paused container's cgroup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, _, err := setup()
		if err != nil {
			return err
		}
		if err := orch.Resume(args[0]); err != nil {
			return err
		}
		fmt.Printf("resumed %q\n", args[0])
		return nil
	},
}
