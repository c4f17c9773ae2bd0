// Package projectconfig provides the ProjectConfig struct and loader for
// .proctor.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values for project configuration. These are the single source of
// truth; New() references them and no other code should duplicate them.
const (
	DefaultServerURL = "http://localhost:8000"

	DefaultSessionLogDir = ".proctor/sessions"

	DefaultHTTPTimeoutSeconds = 15
)

// ServerConfig holds assessment API endpoint settings.
type ServerConfig struct {
	URL            string `yaml:"url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// SessionLogConfig holds local audit log settings.
type SessionLogConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
	Archive *bool  `yaml:"archive,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .proctor.yaml.
type ProjectConfig struct {
	Server     ServerConfig     `yaml:"server,omitempty"`
	SessionLog SessionLogConfig `yaml:"session_log,omitempty"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Server: ServerConfig{
			URL:            DefaultServerURL,
			TimeoutSeconds: DefaultHTTPTimeoutSeconds,
		},
		SessionLog: SessionLogConfig{
			Enabled: boolPtr(true),
			Dir:     DefaultSessionLogDir,
			Archive: boolPtr(true),
		},
	}
}

// Load finds .proctor.yaml by walking up from startDir (max 10 levels),
// unmarshals it, and fills in missing fields with defaults.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil // no file found → return defaults
		}
		return nil, fmt.Errorf("loading .proctor.yaml: %w", err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing .proctor.yaml: %w", err)
	}

	mergeConfig(cfg, &fileCfg)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .proctor.yaml (max 10
// levels). Returns os.ErrNotExist if no config file is found. Propagates
// real I/O errors (e.g. permission denied) instead of silently swallowing
// them.
func findConfigFile(dir string) ([]byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, ".proctor.yaml")
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	if src.Server.URL != "" {
		dst.Server.URL = src.Server.URL
	}
	if src.Server.TimeoutSeconds != 0 {
		dst.Server.TimeoutSeconds = src.Server.TimeoutSeconds
	}

	if src.SessionLog.Enabled != nil {
		dst.SessionLog.Enabled = src.SessionLog.Enabled
	}
	if src.SessionLog.Dir != "" {
		dst.SessionLog.Dir = src.SessionLog.Dir
	}
	if src.SessionLog.Archive != nil {
		dst.SessionLog.Archive = src.SessionLog.Archive
	}
}

func boolPtr(b bool) *bool { return &b }
