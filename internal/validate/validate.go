// Package validate implements the pure, stateless input checks of the
// container runtime (C2). Every function fails with a typed
// *rterrors.Error carrying the offending input -- none of them touch the
// filesystem or any other side-effecting resource.
package validate

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sandia-rt/rt-containers/internal/rterrors"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,49}$`)

var hostnameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

var reservedNames = map[string]bool{
	"root": true, "admin": true, "system": true, "kernel": true,
	"init": true, "proc": true, "sys": true, "dev": true, "tmp": true,
	"var": true, "etc": true, "bin": true, "sbin": true, "usr": true,
	"lib": true, "lib64": true,
}

const (
	MinMemoryMB = 64
	MaxMemoryMB = 8192
	MinCPUPct   = 1
	MaxCPUPct   = 100
)

// ContainerName validates a candidate container name against the naming
// regex, length, and reserved-word list.
func ContainerName(s string) error {
	if !nameRe.MatchString(s) {
		return rterrors.Newf(rterrors.Validation, "container_name",
			"name must match %s", nameRe.String()).WithInput(s)
	}
	if reservedNames[strings.ToLower(s)] {
		return rterrors.Newf(rterrors.Validation, "container_name",
			"name is reserved").WithInput(s)
	}
	return nil
}

// MemoryMB validates a memory limit in megabytes.
func MemoryMB(n int) error {
	if n < MinMemoryMB || n > MaxMemoryMB {
		return rterrors.Newf(rterrors.Validation, "memory_mb",
			"memory_mb must be in [%d, %d]", MinMemoryMB, MaxMemoryMB).
			WithInput(strconv.Itoa(n))
	}
	return nil
}

// CPUPercent validates a CPU percentage limit.
func CPUPercent(n int) error {
	if n < MinCPUPct || n > MaxCPUPct {
		return rterrors.Newf(rterrors.Validation, "cpu_percent",
			"cpu_percent must be in [%d, %d]", MinCPUPct, MaxCPUPct).
			WithInput(strconv.Itoa(n))
	}
	return nil
}

// Hostname validates a user-supplied hostname. Callers should fall back
// to the container name when this returns an error, per §4.5.
func Hostname(s string) error {
	if s == "" || len(s) > 63 || !hostnameRe.MatchString(s) {
		return rterrors.Newf(rterrors.Validation, "hostname",
			"hostname must match %s and be <= 63 bytes", hostnameRe.String()).
			WithInput(s)
	}
	return nil
}

// SanitizePath resolves input to its canonical (absolute, symlink-free of
// "..") form and requires it to begin with base, rejecting traversal
// outside of it.
func SanitizePath(input, base string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", rterrors.New(rterrors.Validation, "sanitize_path", err).WithInput(input)
	}

	joined := filepath.Join(absBase, input)
	clean := filepath.Clean(joined)

	rel, err := filepath.Rel(absBase, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", rterrors.Newf(rterrors.Validation, "sanitize_path",
			"path escapes base %q", absBase).WithInput(input)
	}

	return clean, nil
}

// SanitizeNumeric strips non-digit characters from s, bounds-checks the
// result against max, and signals whether sanitization changed the input
// -- per §4.2, any change at the API boundary is itself an error.
func SanitizeNumeric(s string, max int) (int, error) {
	stripped := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if stripped != s {
		return 0, rterrors.Newf(rterrors.Validation, "sanitize_numeric",
			"input contained non-numeric characters").WithInput(s)
	}

	if stripped == "" {
		return 0, rterrors.Newf(rterrors.Validation, "sanitize_numeric",
			"input was empty").WithInput(s)
	}

	n, err := strconv.Atoi(stripped)
	if err != nil {
		return 0, rterrors.New(rterrors.Validation, "sanitize_numeric", err).WithInput(s)
	}

	if n > max {
		return 0, rterrors.Newf(rterrors.Validation, "sanitize_numeric",
			"value %d exceeds max %d", n, max).WithInput(s)
	}

	return n, nil
}
