package platform

import "testing"

func TestDetectOnLinuxReportsTools(t *testing.T) {
	p := Detect(false)
	if !p.Linux {
		t.Skip("not running on linux, nothing meaningful to assert")
	}
	// Every required tool is either present or recorded as missing; the
	// two lists partition RequiredTools exactly once each.
	if len(p.MissingTools) > len(RequiredTools) {
		t.Fatalf("MissingTools (%v) cannot exceed RequiredTools (%v)", p.MissingTools, RequiredTools)
	}
}

func TestRequireToolsErrorsWhenToolsMissing(t *testing.T) {
	p := Platform{MissingTools: []string{"unshare", "ip"}}
	if err := p.RequireTools(); err == nil {
		t.Fatal("expected error when tools are missing")
	}
}

func TestRequireToolsOKWhenNoneMissing(t *testing.T) {
	p := Platform{}
	if err := p.RequireTools(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRequireRootOKForRoot(t *testing.T) {
	p := Platform{HasRoot: true}
	if err := p.RequireRoot(); err != nil {
		t.Fatalf("expected no error for root, got %v", err)
	}
}

func TestRequireRootFailsForNonRootNonRootless(t *testing.T) {
	p := Platform{HasRoot: false, Rootless: false}
	if err := p.RequireRoot(); err == nil {
		t.Fatal("expected error for non-root, non-rootless")
	}
}

func TestRequireRootOKForConfiguredRootless(t *testing.T) {
	p := Platform{HasRoot: false, Rootless: true, SubUIDOK: true, SubGIDOK: true}
	if err := p.RequireRoot(); err != nil {
		t.Fatalf("expected no error for configured rootless, got %v", err)
	}
}

func TestRequireRootFailsForUnconfiguredRootless(t *testing.T) {
	p := Platform{HasRoot: false, Rootless: true, SubUIDOK: false, SubGIDOK: true}
	if err := p.RequireRoot(); err == nil {
		t.Fatal("expected error for rootless without subuid configured")
	}
}
