package mpwbuild

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
)

// ConfigFile is the conventional name of the optional configuration
// file, looked up in the directory mpwbuild is invoked from.
const ConfigFile = "mpwbuild.conf"

// Config is the one configuration object for a run. It is built once
// at startup and passed by reference into the pipeline; nothing reads
// the environment after this point.
type Config struct {
	Values map[string]string // raw key=value pairs after env merge

	Targets     []string // targets to assemble, in order
	LibDir      string   // dependency tree root, default "lib"
	Color       bool     // colorized-output feature flag
	CC          string   // compiler override, skips the preference chain
	ExtraCFlags []string // shell-quoted MPWBUILD_CFLAGS, split
	Debug       bool
	Verbose     bool
}

// defaultTargets is what a bare invocation builds.
var defaultTargets = []string{"mpw"}

// LoadConfig reads the optional configuration file and applies
// MPWBUILD_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)

	if err := resolveConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge MPWBUILD_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MPWBUILD_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// resolveConfig turns the raw key/value map into the typed fields.
func resolveConfig(cfg *Config) error {
	cfg.Targets = append([]string(nil), defaultTargets...)
	if list := strings.Fields(cfg.Values["MPWBUILD_TARGETS"]); len(list) > 0 {
		cfg.Targets = list
	}

	cfg.LibDir = cfg.Values["MPWBUILD_LIBDIR"]
	if cfg.LibDir == "" {
		cfg.LibDir = "lib"
	}

	cfg.Color = true
	if cfg.Values["MPWBUILD_COLOR"] == "0" {
		cfg.Color = false
	}

	cfg.CC = cfg.Values["MPWBUILD_CC"]

	if raw := cfg.Values["MPWBUILD_CFLAGS"]; raw != "" {
		flags, err := shlex.Split(raw)
		if err != nil {
			return fmt.Errorf("cannot parse MPWBUILD_CFLAGS %q: %w", raw, err)
		}
		cfg.ExtraCFlags = flags
	}

	cfg.Debug = cfg.Values["MPWBUILD_DEBUG"] == "1"
	cfg.Verbose = cfg.Values["MPWBUILD_VERBOSE"] == "1"
	return nil
}
