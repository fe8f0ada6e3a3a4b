// Package network implements the network driver (C8): per-container
// netns creation, a veth pair with deterministic hashed names, host-side
// routing, and teardown. Every step shells out to the `ip` command, the
// same approach as the teacher's src/bridge/ip.go (createVeth,
// upInterface, setMAC, destroyTap) and src/bridge/container.go's
// CreateContainerTap (create-then-rollback-on-partial-failure ordering).
package network

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sandia-rt/rt-containers/internal/rterrors"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
)

// Endpoints names the resources created for one container's network.
type Endpoints struct {
	Netns    string
	VethHost string
	VethPeer string
	IP       string
}

// HashSuffix returns the 6-hex-char suffix used to build veth names,
// derived from a hash of the container name so that the interface names
// stay within the 15-byte Linux limit (veth-h<6> / veth-c<6>).
func HashSuffix(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:6]
}

// NamesFor returns the deterministic netns and veth names for a container.
func NamesFor(name string) Endpoints {
	h := HashSuffix(name)
	return Endpoints{
		Netns:    "container-" + name,
		VethHost: "veth-h" + h,
		VethPeer: "veth-c" + h,
	}
}

// Create builds the full per-container network: netns, veth pair, IP
// assignment, host route. Partial failure tears down everything it
// already created before returning the error, mirroring
// CreateContainerTap's clean-up-what-we-made-so-far behavior.
func Create(name, ip string) (Endpoints, error) {
	ep := NamesFor(name)
	ep.IP = ip

	if err := run("ip", "netns", "add", ep.Netns); err != nil {
		return ep, netErr("create.netns", err)
	}

	if err := run("ip", "netns", "exec", ep.Netns, "ip", "link", "set", "lo", "up"); err != nil {
		teardownNetnsOnly(ep)
		return ep, netErr("create.lo", err)
	}

	if err := run("ip", "link", "add", ep.VethHost, "type", "veth", "peer", "name", ep.VethPeer); err != nil {
		teardownNetnsOnly(ep)
		return ep, netErr("create.veth", err)
	}

	if err := run("ip", "link", "set", ep.VethPeer, "netns", ep.Netns); err != nil {
		destroyVeth(ep.VethHost)
		teardownNetnsOnly(ep)
		return ep, netErr("create.move_peer", err)
	}

	if err := run("ip", "link", "set", ep.VethHost, "up"); err != nil {
		Destroy(ep)
		return ep, netErr("create.up_host", err)
	}

	if err := run("ip", "netns", "exec", ep.Netns, "ip", "link", "set", ep.VethPeer, "up"); err != nil {
		Destroy(ep)
		return ep, netErr("create.up_peer", err)
	}

	if err := run("ip", "netns", "exec", ep.Netns, "ip", "addr", "add", ip+"/24", "dev", ep.VethPeer); err != nil {
		Destroy(ep)
		return ep, netErr("create.addr", err)
	}

	if err := run("ip", "route", "add", ip+"/32", "dev", ep.VethHost); err != nil {
		Destroy(ep)
		return ep, netErr("create.route", err)
	}

	// best-effort default route inside the netns via the reserved gateway
	if err := run("ip", "netns", "exec", ep.Netns, "ip", "route", "add", "default", "via", "10.0.0.1"); err != nil {
		rtlog.WithField("netns", ep.Netns).Debug("network: default route via 10.0.0.1 not added (best-effort)")
	}

	return ep, nil
}

// Destroy tears down the host route, host-side veth (the kernel
// auto-removes the peer), and the netns, releasing every kernel resource
// this container's network touched.
func Destroy(ep Endpoints) int {
	failures := 0

	if err := run("ip", "route", "del", ep.IP+"/32", "dev", ep.VethHost); err != nil {
		rtlog.WithField("ip", ep.IP).Debug("network: route already gone")
	}

	if err := destroyVeth(ep.VethHost); err != nil {
		failures++
	}

	if err := teardownNetnsOnly(ep); err != nil {
		failures++
	}

	return failures
}

func teardownNetnsOnly(ep Endpoints) error {
	if err := run("ip", "netns", "del", ep.Netns); err != nil {
		rtlog.WithField("netns", ep.Netns).Warn("network: netns delete failed")
		return err
	}
	return nil
}

func destroyVeth(name string) error {
	if err := run("ip", "link", "del", name); err != nil {
		rtlog.WithField("veth", name).Warn("network: veth delete failed")
		return err
	}
	return nil
}

// Ping runs the connectivity test from §4.8: `ping -c 3 -W 2 <ip>`
// executed inside the given netns.
func Ping(netns, ip string) error {
	if err := run("ip", "netns", "exec", netns, "ping", "-c", "3", "-W", "2", ip); err != nil {
		return rterrors.New(rterrors.Network, "network.ping", err).WithInput(ip)
	}
	return nil
}

func netErr(op string, err error) error {
	return rterrors.New(rterrors.Network, op, err)
}

func run(args ...string) error {
	start := time.Now()
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	rtlog.WithFields(map[string]interface{}{
		"cmd":      strings.Join(args, " "),
		"duration": time.Since(start),
	}).Debug("network: ran command")
	if err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
