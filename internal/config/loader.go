package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config and data directories.
	AppName = "goflash"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GOFLASH"
)

var (
	mu      sync.RWMutex
	current *Config
)

// EnvSpec maps a short environment variable onto a config key.
type EnvSpec struct {
	Name string
	Key  string
}

// getEnvSpecs returns the short environment aliases. Every key is also
// reachable as GOFLASH_<SECTION>_<KEY>.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "_HOST", Key: "server.host"},
		{Name: EnvPrefix + "_PORT", Key: "server.port"},
		{Name: EnvPrefix + "_READ_TIMEOUT", Key: "server.read_timeout"},
		{Name: EnvPrefix + "_WRITE_TIMEOUT", Key: "server.write_timeout"},
		{Name: EnvPrefix + "_LOG_LEVEL", Key: "logging.level"},
		{Name: EnvPrefix + "_LOG_FORMAT", Key: "logging.format"},
		{Name: EnvPrefix + "_PROJECT_DIR", Key: "project.dir"},
		{Name: EnvPrefix + "_BOARDS_DIR", Key: "project.boards_dir"},
		{Name: EnvPrefix + "_WORKSPACE_ROOT", Key: "workspace.root"},
		{Name: EnvPrefix + "_WORKSPACE_CAPACITY", Key: "workspace.capacity"},
		{Name: EnvPrefix + "_SCAN_TIMEOUT", Key: "scan.timeout"},
		{Name: EnvPrefix + "_AVRDUDE", Key: "avrdude.path"},
		{Name: EnvPrefix + "_BUILD_EXECUTABLE", Key: "build.executable"},
		{Name: EnvPrefix + "_PLATFORMIO", Key: "pio.executable"},
		{Name: EnvPrefix + "_JOBS_DIR", Key: "jobs.dir"},
	}
}

// DataDir returns the default application data directory.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9876)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("project.dir", filepath.Join(dataDir, "platformio"))
	v.SetDefault("project.boards_dir", "")

	v.SetDefault("workspace.root", filepath.Join(dataDir, "parallel"))
	v.SetDefault("workspace.capacity", 150)
	v.SetDefault("workspace.poll_interval", "300ms")
	v.SetDefault("workspace.source_dir", "src")
	v.SetDefault("workspace.source_file", "main.ino")
	v.SetDefault("workspace.exclude", []string{".pio/**", ".git/**"})

	v.SetDefault("scan.timeout", "30s")
	v.SetDefault("scan.probe_timeout", "30s")
	v.SetDefault("scan.include", []string{})
	v.SetDefault("scan.exclude", []string{})
	v.SetDefault("scan.usb_only", true)

	v.SetDefault("avrdude.path", "")
	v.SetDefault("avrdude.config", "")
	v.SetDefault("avrdude.res_dir", filepath.Join(dataDir, "res"))

	v.SetDefault("build.executable", "")
	v.SetDefault("build.args", []string{})

	v.SetDefault("pio.executable", "platformio")

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.dir", filepath.Join(dataDir, "jobs"))

	v.SetDefault("images.s3.region", "")
	v.SetDefault("images.s3.endpoint", "")
	v.SetDefault("images.s3.profile", "")
	v.SetDefault("images.s3.access_key_id", "")
	v.SetDefault("images.s3.secret_access_key", "")
	v.SetDefault("images.s3.force_path_style", false)
	v.SetDefault("images.temp_dir", "")
}

// DefaultConfigFile returns the user-level config file location.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, "config.yaml")
}

// Load reads configuration with precedence runtime overrides > environment >
// config file > defaults. The config file is $GOFLASH_CONFIG or the user
// config file; a missing default file is not an error.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file path. An explicit file
// must exist.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	explicit := strings.TrimSpace(path)
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG"))
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", explicit, err)
		}
	} else if def := DefaultConfigFile(); def != "" {
		if _, err := os.Stat(def); err == nil {
			v.SetConfigFile(def)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", def, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Key, spec.Name, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(spec.Key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, override := range overrides {
		for key, value := range flatten("", override) {
			v.Set(key, value)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mu.Lock()
	current = &cfg
	mu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}

// IsNotFound reports whether err is a missing config file error.
func IsNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
