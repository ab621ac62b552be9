// Package setup registers the MCP server with Claude Desktop and reports on
// the health of an existing installation.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const (
	serverKey  = "trial-match"
	binaryName = "mcp-server"
	dataDirEnv = "TRIALMATCH_DATA_DIR"
)

// ServerEntry is one server stanza inside the Claude Desktop config file.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// DesktopConfig is the Claude Desktop configuration file, loaded from and
// written back to its platform-specific location.
type DesktopConfig struct {
	Servers map[string]ServerEntry `json:"mcpServers"`

	path string
}

// LocateDesktopConfig returns the platform path of the Claude Desktop
// config file without reading it.
func LocateDesktopConfig() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "Claude", "claude_desktop_config.json"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LoadDesktopConfig reads the config at path. A missing file yields an
// empty, writable config rather than an error.
func LoadDesktopConfig(path string) (*DesktopConfig, error) {
	cfg := &DesktopConfig{Servers: map[string]ServerEntry{}, path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerEntry{}
	}
	return cfg, nil
}

// Entry returns the trial-match server stanza, if registered.
func (c *DesktopConfig) Entry() (ServerEntry, bool) {
	entry, ok := c.Servers[serverKey]
	return entry, ok
}

// Register adds or replaces the trial-match server stanza and writes the
// file back, preserving every other server.
func (c *DesktopConfig) Register(binaryPath, dataDir string) error {
	entry := ServerEntry{Command: binaryPath, Env: map[string]string{}}
	if dataDir != "" {
		entry.Env[dataDirEnv] = dataDir
	}
	c.Servers[serverKey] = entry
	return c.save()
}

func (c *DesktopConfig) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindBinary resolves the server binary, preferring PATH over the usual
// install locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	candidates := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs, nil
		}
		return candidate, nil
	}
	return "", fmt.Errorf("binary %q not found in PATH or common locations", binaryName)
}

// DefaultDataDir is where the server keeps its history database and exports
// when no explicit directory is configured.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".trial-match")
}

// EnsureDataDir creates the data directory and its exports subdirectory.
func EnsureDataDir(dataDir string) error {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "exports"), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Inspection is a point-in-time report on the installation: whether the
// server is registered, where its pieces live, and anything amiss. Warnings
// describe conditions the server repairs on first run; problems require the
// user to act.
type Inspection struct {
	ConfigPath   string
	Registered   bool
	BinaryPath   string
	BinaryFound  bool
	DataDir      string
	DataDirFound bool
	HistoryFound bool
	Warnings     []string
	Problems     []string
}

// Healthy reports whether the installation would start cleanly as it is.
func (r *Inspection) Healthy() bool {
	return r.Registered && len(r.Problems) == 0
}

// Inspect examines the Claude Desktop config, the registered binary and the
// data directory, and returns the combined report.
func Inspect() *Inspection {
	report := &Inspection{DataDir: DefaultDataDir()}

	path, err := LocateDesktopConfig()
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("cannot determine Claude Desktop config path: %v", err))
		return report
	}
	report.ConfigPath = path

	cfg, err := LoadDesktopConfig(path)
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("cannot load Claude Desktop config: %v", err))
		return report
	}

	entry, ok := cfg.Entry()
	if !ok {
		report.Problems = append(report.Problems, "server is not registered in Claude Desktop")
		return report
	}
	report.Registered = true
	report.BinaryPath = entry.Command

	if info, err := os.Stat(entry.Command); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("server binary not found: %s", entry.Command))
	} else {
		report.BinaryFound = true
		if info.Mode()&0111 == 0 {
			report.Problems = append(report.Problems, fmt.Sprintf("server binary is not executable: %s", entry.Command))
		}
	}

	if dir := entry.Env[dataDirEnv]; dir != "" {
		report.DataDir = dir
	}
	if _, err := os.Stat(report.DataDir); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("data directory will be created on first run: %s", report.DataDir))
	} else {
		report.DataDirFound = true
		if _, err := os.Stat(filepath.Join(report.DataDir, "match_history.db")); err == nil {
			report.HistoryFound = true
		}
	}

	return report
}
