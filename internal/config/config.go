// Package config reads the recognized environment variables and global
// CLI flags once at process start into an immutable Config, following the
// teacher's pattern of package-level flag variables parsed once in main()
// -- generalized into a struct since this tool has no persistent daemon
// process to hold globals for.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const DefaultBase = "/tmp/containers"

// Config holds the process-wide settings resolved from environment
// variables and global flags.
type Config struct {
	LogLevel   int
	Verbose    bool
	Debug      bool
	Monitoring bool
	Rootless   bool

	// BasePath is the containers root directory. Defaults to
	// /tmp/containers, or $HOME/.local/share/rt-containers in rootless
	// mode.
	BasePath string
}

// Load resolves Config from the environment. CLI flags (passed in as
// overrides, since cobra parses them separately) take precedence over
// environment variables when non-zero/true.
func Load() Config {
	c := Config{
		LogLevel:   envInt("LOG_LEVEL", 3),
		Verbose:    envBool("VERBOSE_MODE"),
		Debug:      envBool("DEBUG_MODE"),
		Monitoring: envBool("MONITORING_ENABLED"),
		Rootless:   envBool("ROOTLESS_MODE"),
	}
	c.BasePath = c.basePath()
	return c
}

func (c Config) basePath() string {
	if c.Rootless {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, ".local", "share", "rt-containers")
		}
	}
	return DefaultBase
}

// ApplyFlags overlays CLI flag values onto a loaded Config.
func (c Config) ApplyFlags(verbose, debug, monitor, rootless bool) Config {
	if verbose {
		c.Verbose = true
	}
	if debug {
		c.Debug = true
	}
	if monitor {
		c.Monitoring = true
	}
	if rootless {
		c.Rootless = true
		c.BasePath = c.basePath()
	}
	return c
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
