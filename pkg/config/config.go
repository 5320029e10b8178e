// Package config contains the application configuration for remote-projects and its logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/workspace"
)

// ErrConfigNotFound is returned when an explicitly requested configuration file does not exist.
var ErrConfigNotFound = errors.New("config not found")

const (
	appName = "remote-projects"

	// ConfigPathEnv overrides the config file location.
	ConfigPathEnv = "REMOTE_PROJECTS_CONFIG"

	DefaultConnectTimeoutMS = 10000
)

// Config is the YAML application configuration.
//
// Example YAML:
//
//	servers_file: ~/.config/remote-projects/servers.yaml
//	connect_timeout_ms: 5000
//	known_hosts: [~/.ssh/known_hosts]
//	opener: tmux
//	log_level: debug
//	default_upload_policy: auto
//	theme: catppuccin
type Config struct {
	ServersFile         string   `yaml:"servers_file,omitempty"`
	ConnectTimeoutMS    int      `yaml:"connect_timeout_ms,omitempty"`
	KnownHosts          []string `yaml:"known_hosts,omitempty"`
	Opener              string   `yaml:"opener,omitempty"`
	LogFile             string   `yaml:"log_file,omitempty"`
	LogLevel            string   `yaml:"log_level,omitempty"`
	DefaultUploadPolicy string   `yaml:"default_upload_policy,omitempty"`
	Theme               string   `yaml:"theme,omitempty"`
}

// themeNames lists the names accepted by servers.LoadTheme.
var themeNames = []string{"auto", "none", "dark", "light", "catppuccin", "catppuccin-mocha"}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		ConnectTimeoutMS: DefaultConnectTimeoutMS,
		Opener:           workspace.KindAuto,
		LogLevel:         "info",
	}
}

// LoadConfig tries each candidate path in order and returns the first config found, with the
// path it came from. When no file exists it returns Default() and an empty path.
func LoadConfig(explicitPath string) (*Config, string, error) {
	for i, p := range ConfigPathCandidates(explicitPath) {
		p = expandPath(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			// A missing explicit file is an error; missing defaults are not.
			if i == 0 && explicitPath != "" {
				if errors.Is(err, os.ErrNotExist) {
					return nil, p, fmt.Errorf("read config %s: %w", p, ErrConfigNotFound)
				}
				return nil, p, fmt.Errorf("read config %s: %w", p, err)
			}
			continue
		}
		cfg := Default()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, p, fmt.Errorf("parse yaml %s: %w", p, err)
		}
		cfg.applyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, p, fmt.Errorf("invalid config %s: %w", p, err)
		}
		return cfg, p, nil
	}
	return Default(), "", nil
}

// ConfigPathCandidates returns possible configuration file paths, in priority order.
// If explicitPath is provided, it is returned first.
func ConfigPathCandidates(explicitPath string) []string {
	var out []string
	if explicitPath != "" {
		out = append(out, explicitPath)
	}
	if env := os.Getenv(ConfigPathEnv); env != "" {
		out = append(out, env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		out = append(out, filepath.Join(xdg, appName, "config.yaml"))
	}
	if home, _ := os.UserHomeDir(); home != "" {
		out = append(out, filepath.Join(home, ".config", appName, "config.yaml"))
	}
	return out
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Opener) == "" {
		c.Opener = workspace.KindAuto
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
}

// Validate performs basic sanity checks on the configuration.
func (c *Config) Validate() error {
	if c.ConnectTimeoutMS < 0 {
		return fmt.Errorf("connect_timeout_ms: must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Opener)) {
	case "", workspace.KindAuto, workspace.KindTmux, workspace.KindExec:
	default:
		return fmt.Errorf("opener: must be one of auto, tmux, exec (got %q)", c.Opener)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !registry.UploadPolicy(c.DefaultUploadPolicy).Valid() {
		return fmt.Errorf("default_upload_policy: must be one of always, never, auto (got %q)", c.DefaultUploadPolicy)
	}
	if t := strings.ToLower(strings.TrimSpace(c.Theme)); t != "" && !slices.Contains(themeNames, t) {
		return fmt.Errorf("theme: must be one of %s (got %q)", strings.Join(themeNames, ", "), c.Theme)
	}
	for i, p := range c.KnownHosts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("known_hosts[%d]: path is empty", i)
		}
	}
	return nil
}

// ConnectTimeout is the dial timeout; zero means no timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ServersPath resolves servers_file, falling back to registry.DefaultServersPath.
func (c *Config) ServersPath() (string, error) {
	if p := expandPath(strings.TrimSpace(c.ServersFile)); p != "" {
		return p, nil
	}
	return registry.DefaultServersPath()
}

// KnownHostsPaths returns the expanded known_hosts list; nil means the ssh defaults.
func (c *Config) KnownHostsPaths() []string {
	var out []string
	for _, p := range c.KnownHosts {
		out = append(out, expandPath(strings.TrimSpace(p)))
	}
	return out
}

// expandPath expands leading "~" and environment variables in a path.
// If the input is empty, returns "".
func expandPath(p string) string {
	if p == "" {
		return ""
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, _ := os.UserHomeDir(); home != "" {
			if p == "~" {
				p = home
			} else if strings.HasPrefix(p, "~/") {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return p
}
