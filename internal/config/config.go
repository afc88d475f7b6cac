// Package config loads goflash configuration from defaults, an optional
// YAML file, GOFLASH_* environment variables and runtime overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/goflash/pkg/imagesource"
)

// Config is the full agent configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Project   ProjectConfig   `mapstructure:"project"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Avrdude   AvrdudeConfig   `mapstructure:"avrdude"`
	Build     BuildConfig     `mapstructure:"build"`
	PIO       PIOConfig       `mapstructure:"pio"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Images    ImagesConfig    `mapstructure:"images"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProjectConfig locates the canonical PlatformIO project.
type ProjectConfig struct {
	Dir string `mapstructure:"dir"`

	// BoardsDir optionally holds <token>.json board definitions that take
	// precedence over the embedded catalog.
	BoardsDir string `mapstructure:"boards_dir"`
}

type WorkspaceConfig struct {
	Root         string        `mapstructure:"root"`
	Capacity     int           `mapstructure:"capacity"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SourceDir    string        `mapstructure:"source_dir"`
	SourceFile   string        `mapstructure:"source_file"`
	Exclude      []string      `mapstructure:"exclude"`
}

type ScanConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Include      []string      `mapstructure:"include"`
	Exclude      []string      `mapstructure:"exclude"`
	USBOnly      bool          `mapstructure:"usb_only"`
}

// AvrdudeConfig selects the flashing utility. Path and Config win over the
// per-platform binaries found in ResDir.
type AvrdudeConfig struct {
	Path   string `mapstructure:"path"`
	Config string `mapstructure:"config"`
	ResDir string `mapstructure:"res_dir"`
}

// BuildConfig selects the build process. An empty Executable runs goflash
// itself.
type BuildConfig struct {
	Executable string   `mapstructure:"executable"`
	Args       []string `mapstructure:"args"`
}

type PIOConfig struct {
	Executable string `mapstructure:"executable"`
}

type JobsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type ImagesConfig struct {
	S3      imagesource.S3Config `mapstructure:"s3"`
	TempDir string               `mapstructure:"temp_dir"`
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if strings.TrimSpace(c.Project.Dir) == "" {
		return fmt.Errorf("project.dir is required")
	}
	if strings.TrimSpace(c.Workspace.Root) == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if c.Workspace.Capacity <= 0 {
		return fmt.Errorf("workspace.capacity must be > 0, got %d", c.Workspace.Capacity)
	}
	if c.Workspace.PollInterval <= 0 {
		return fmt.Errorf("workspace.poll_interval must be > 0")
	}
	if c.Scan.Timeout <= 0 || c.Scan.ProbeTimeout <= 0 {
		return fmt.Errorf("scan.timeout and scan.probe_timeout must be > 0")
	}
	if c.Jobs.Enabled && strings.TrimSpace(c.Jobs.Dir) == "" {
		return fmt.Errorf("jobs.dir is required when jobs are enabled")
	}
	return c.Images.S3.Validate()
}
