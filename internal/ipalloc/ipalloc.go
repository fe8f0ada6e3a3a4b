// Package ipalloc implements the container IP allocator (C4): a mapping
// from container name to IPv4 address within 10.0.0.0/24, plus a
// monotone cursor that advances past holes created by release. The
// allocation-with-holes algorithm mirrors the teacher's
// vlans.AllocatedVLANs (src/vlans/vlans.go): a byAlias/byVLAN pair of
// maps plus a Next cursor that skips already-allocated slots, substituting
// host addresses for VLAN tags.
package ipalloc

import (
	"fmt"
	"sync"

	"github.com/sandia-rt/rt-containers/internal/rterrors"
)

// Gateway is reserved and never handed out by the allocator (Open
// Question decision: 10.0.0.1 is the optional default gateway).
const Gateway = "10.0.0.1"

// FirstHost is the first address the allocator will ever hand out.
const FirstHost = 2

// LastHost is the last valid host address in the /24 (broadcast is .255).
const LastHost = 254

// Allocator holds the name->IP bindings for one subnet.
type Allocator struct {
	mu      sync.Mutex
	byName  map[string]int
	byOctet map[int]string
	next    int
}

// New returns an Allocator over 10.0.0.0/24 starting at 10.0.0.2.
func New() *Allocator {
	return &Allocator{
		byName:  make(map[string]int),
		byOctet: make(map[int]string),
		next:    FirstHost,
	}
}

// Allocate assigns the next unused address to name. Repeated calls for an
// already-bound name return the existing address.
func (a *Allocator) Allocate(name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if octet, ok := a.byName[name]; ok {
		return ipString(octet), nil
	}

	for a.byOctet[a.next] != "" && a.next <= LastHost {
		a.next++
	}

	if a.next > LastHost {
		return "", rterrors.Newf(rterrors.Resource, "allocate",
			"subnet 10.0.0.0/24 exhausted").WithInput(name)
	}

	octet := a.next
	a.byName[name] = octet
	a.byOctet[octet] = name

	return ipString(octet), nil
}

// Release removes the binding for name, making its address available
// for reuse and allowing the cursor to be re-found over the hole it left.
func (a *Allocator) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	octet, ok := a.byName[name]
	if !ok {
		return
	}

	delete(a.byName, name)
	delete(a.byOctet, octet)

	if octet < a.next {
		a.next = octet
	}
}

// Lookup returns the address bound to name, if any.
func (a *Allocator) Lookup(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	octet, ok := a.byName[name]
	if !ok {
		return "", false
	}
	return ipString(octet), true
}

// Restore re-binds name to a specific address, used when rebuilding the
// allocator from on-disk metadata at the start of an invocation (the
// namespace directory is the source of truth; this in-memory map is a
// transient cache per Open Question decision #2).
func (a *Allocator) Restore(name, ip string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	octet, err := octetOf(ip)
	if err != nil {
		return err
	}

	if owner, ok := a.byOctet[octet]; ok && owner != name {
		return rterrors.Newf(rterrors.Resource, "restore",
			"ip %s already bound to %s", ip, owner).WithInput(name)
	}

	a.byName[name] = octet
	a.byOctet[octet] = name
	return nil
}

func ipString(octet int) string {
	return fmt.Sprintf("10.0.0.%d", octet)
}

func octetOf(ip string) (int, error) {
	var d int
	n, err := fmt.Sscanf(ip, "10.0.0.%d", &d)
	if err != nil || n != 1 {
		return 0, rterrors.Newf(rterrors.Validation, "octet_of",
			"not a 10.0.0.0/24 address").WithInput(ip)
	}
	return d, nil
}
