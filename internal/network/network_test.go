package network

import "testing"

func TestHashSuffixIsStableAndSixChars(t *testing.T) {
	h1 := HashSuffix("web1")
	h2 := HashSuffix("web1")
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %q then %q", h1, h2)
	}
	if len(h1) != 6 {
		t.Fatalf("expected 6-char suffix, got %q (%d chars)", h1, len(h1))
	}
}

func TestHashSuffixDiffersAcrossNames(t *testing.T) {
	if HashSuffix("web1") == HashSuffix("web2") {
		t.Fatal("expected distinct names to produce distinct suffixes (collisions possible but vanishingly unlikely here)")
	}
}

func TestNamesForStaysWithinInterfaceNameLimit(t *testing.T) {
	ep := NamesFor("a-fairly-long-container-name-01")
	const maxIfNameLen = 15 // IFNAMSIZ - 1
	if len(ep.VethHost) > maxIfNameLen {
		t.Errorf("VethHost %q exceeds %d bytes", ep.VethHost, maxIfNameLen)
	}
	if len(ep.VethPeer) > maxIfNameLen {
		t.Errorf("VethPeer %q exceeds %d bytes", ep.VethPeer, maxIfNameLen)
	}
}

func TestNamesForDeterministicNetnsName(t *testing.T) {
	ep := NamesFor("web3")
	if ep.Netns != "container-web3" {
		t.Fatalf("Netns = %q, want container-web3", ep.Netns)
	}
	if ep.VethHost[:6] != "veth-h" || ep.VethPeer[:6] != "veth-c" {
		t.Fatalf("unexpected veth prefixes: host=%q peer=%q", ep.VethHost, ep.VethPeer)
	}
}
