// Package platform resolves where tt3 keeps its configuration and its
// default workspace files on each operating system.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the application directories.
const DefaultAppName = "tt3"

// Workspace files are named <app>.db for SQLite and <app>.xml for XML.
const (
	configFileName     = "config.toml"
	sqliteWorkspaceExt = ".db"
	xmlWorkspaceExt    = ".xml"
)

// Paths is the resolved on-disk layout of one tt3 installation.
type Paths struct {
	ConfigPath string
	DataDir    string
	// DBPath is the default SQLite workspace.
	DBPath string
	// XMLPath is the default XML workspace. Its lock file sits next to it.
	XMLPath string
}

// WorkspacePath returns the default workspace file for a backend type name.
// Unknown names fall back to the SQLite workspace.
func (p Paths) WorkspacePath(typ string) string {
	if strings.EqualFold(strings.TrimSpace(typ), "xml") {
		return p.XMLPath
	}
	return p.DBPath
}

// Options selects the application directory name.
type Options struct {
	AppName string
	// DevMode keeps a development build away from real workspaces.
	DevMode bool
}

// DefaultPaths resolves the layout for the tt3 application name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: DefaultAppName})
}

// DefaultPathsWithOptions resolves the layout for the running OS and user.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = DefaultAppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(runtime.GOOS, configDir)
	if err != nil {
		return Paths{}, err
	}

	env := make(map[string]string, 4)
	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "APPDATA", "LOCALAPPDATA"} {
		env[key] = os.Getenv(key)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// userDataDir picks the base directory for workspace files. Workspaces are
// user data, so Linux keeps them under ~/.local/share and Windows under the
// non-roaming profile.
func userDataDir(goos, configDir string) (string, error) {
	switch goos {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("user home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			return v, nil
		}
	}
	return configDir, nil
}

// baseOverrides lists, per OS, the environment variables that replace the
// config and data base directories.
var baseOverrides = map[string]struct{ config, data string }{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// PathsFor resolves the layout for goos from env and the base directories.
// Operating systems without overrides, macOS included, use the bases as is.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if keys, ok := baseOverrides[goos]; ok {
		if v := env[keys.config]; v != "" {
			configBase = v
		}
		if v := env[keys.data]; v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath: filepath.Join(configBase, appName, configFileName),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+sqliteWorkspaceExt),
		XMLPath:    filepath.Join(dataDir, appName+xmlWorkspaceExt),
	}, nil
}
