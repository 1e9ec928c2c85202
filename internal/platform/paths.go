// Package platform resolves where haggle keeps its config file, negotiation database and logs.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories.
const DefaultAppName = "haggle"

const devSuffix = "-dev"

// Paths holds the resolved locations for one app name.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
}

// Options selects the app name, dev-mode directories and an explicit data directory.
type Options struct {
	AppName string
	DevMode bool
	// DataDir replaces the per-OS data location. The database and logs live directly under it.
	DataDir string
}

// Getenv reads one environment variable.
type Getenv func(key string) string

// baseEnv names, per OS, the variables that move the config and data bases.
var baseEnv = map[string][2]string{
	"linux":   {"XDG_CONFIG_HOME", "XDG_DATA_HOME"},
	"windows": {"APPDATA", "LOCALAPPDATA"},
}

// Resolve resolves paths from the current user's environment.
func Resolve(opts Options) (Paths, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataBase := configBase
	if runtime.GOOS == "linux" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("user home dir: %w", err)
		}
		dataBase = filepath.Join(home, ".local", "share")
	}
	return Layout(runtime.GOOS, os.Getenv, configBase, dataBase, opts)
}

// Layout computes paths for an explicit OS, environment and base directories.
func Layout(goos string, getenv Getenv, configBase, dataBase string, opts Options) (Paths, error) {
	name, err := dirName(opts)
	if err != nil {
		return Paths{}, err
	}
	if keys, ok := baseEnv[goos]; ok && getenv != nil {
		if v := strings.TrimSpace(getenv(keys[0])); v != "" {
			configBase = v
		}
		if v := strings.TrimSpace(getenv(keys[1])); v != "" {
			dataBase = v
		}
	}
	if strings.TrimSpace(configBase) == "" {
		return Paths{}, errors.New("empty config base dir")
	}

	dataDir := strings.TrimSpace(opts.DataDir)
	if dataDir == "" {
		if strings.TrimSpace(dataBase) == "" {
			return Paths{}, errors.New("empty data base dir")
		}
		dataDir = filepath.Join(dataBase, name)
	}
	dataDir = filepath.Clean(dataDir)
	return Paths{
		ConfigPath: filepath.Join(configBase, name, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, name+".db"),
		LogDir:     filepath.Join(dataDir, "log"),
	}, nil
}

func dirName(opts Options) (string, error) {
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("app name %q is not a directory name", name)
	}
	if opts.DevMode {
		name += devSuffix
	}
	return name, nil
}

// Ensure creates the data and log directories.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.DataDir, p.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
