// Package boardconfig resolves board ids against the project configuration
// (platformio.ini) and enriches them with catalog build/upload parameters.
//
// The project file is read on every call. Environments can be edited while
// the agent runs and the next request sees the change.
package boardconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/3leaps/goflash/pkg/boards"
)

const (
	// ProjectFileName is the project configuration file inside the project dir.
	ProjectFileName = "platformio.ini"

	// EnvPrefix prefixes every environment section name.
	EnvPrefix = "env:"
)

var (
	// ErrProjectConfigUnavailable indicates the project file is missing,
	// unreadable, or declares no environments.
	ErrProjectConfigUnavailable = errors.New("project configuration unavailable")

	// ErrBoardNotSupported indicates the board id has no environment or its
	// board token is unknown to the catalog.
	ErrBoardNotSupported = errors.New("board not supported")
)

// BoardConfig is the resolved configuration for one board id.
type BoardConfig struct {
	// Board is the requested board id (the environment name).
	Board string `json:"board"`

	// EnvironmentName is the build tool environment to run.
	EnvironmentName string `json:"environment"`

	// BoardToken is the raw `board` value of the environment section.
	BoardToken string `json:"board_token"`

	// MCU is the mcu id passed to the flashing utility.
	MCU string `json:"mcu"`

	// UploadBaudRate is the serial speed used for probing and flashing.
	UploadBaudRate int `json:"upload_speed"`

	// Options holds the raw key/values of the environment section.
	Options map[string]string `json:"options,omitempty"`
}

// Resolver loads board configuration from a project directory.
// It holds no cached state and is safe for concurrent use.
type Resolver struct {
	projectDir string
	catalog    boards.Catalog
}

// NewResolver returns a resolver for the project rooted at projectDir.
func NewResolver(projectDir string, catalog boards.Catalog) *Resolver {
	return &Resolver{projectDir: strings.TrimSpace(projectDir), catalog: catalog}
}

// ProjectDir returns the canonical project directory.
func (r *Resolver) ProjectDir() string {
	return r.projectDir
}

// ProjectFile returns the path of the project configuration file.
func (r *Resolver) ProjectFile() string {
	return filepath.Join(r.projectDir, ProjectFileName)
}

// Resolve returns the configuration of board.
func (r *Resolver) Resolve(board string) (*BoardConfig, error) {
	board = strings.TrimSpace(board)

	envs, err := r.environments()
	if err != nil {
		return nil, err
	}

	section, ok := envs[board]
	if !ok || board == "" {
		return nil, fmt.Errorf("%w: %q", ErrBoardNotSupported, board)
	}

	options := section.KeysHash()
	token := strings.TrimSpace(options["board"])
	if token == "" {
		return nil, fmt.Errorf("%w: environment %q has no board option", ErrBoardNotSupported, board)
	}

	if r.catalog == nil {
		return nil, fmt.Errorf("%w: no board catalog configured", ErrBoardNotSupported)
	}
	data, err := r.catalog.Lookup(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrBoardNotSupported, board, err)
	}

	cfg := &BoardConfig{
		Board:           board,
		EnvironmentName: board,
		BoardToken:      token,
		MCU:             data.Build.MCU,
		UploadBaudRate:  data.Upload.Speed,
		Options:         options,
	}

	// PlatformIO per-environment overrides.
	if mcu := strings.TrimSpace(options["board_build.mcu"]); mcu != "" {
		cfg.MCU = mcu
	}
	if speed := strings.TrimSpace(options["upload_speed"]); speed != "" {
		n, err := strconv.Atoi(speed)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q: invalid upload_speed %q", ErrBoardNotSupported, board, speed)
		}
		cfg.UploadBaudRate = n
	}

	return cfg, nil
}

// Boards returns the environment names declared by the project, sorted.
func (r *Resolver) Boards() ([]string, error) {
	envs, err := r.environments()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(envs))
	for name := range envs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Resolver) environments() (map[string]*ini.Section, error) {
	if r.projectDir == "" {
		return nil, fmt.Errorf("%w: project dir is empty", ErrProjectConfigUnavailable)
	}

	path := r.ProjectFile()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProjectConfigUnavailable, err)
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SkipUnrecognizableLines:    true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrProjectConfigUnavailable, path, err)
	}

	envs := map[string]*ini.Section{}
	for _, s := range f.Sections() {
		name := s.Name()
		if !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		envName := name[len(EnvPrefix):]
		if envName == "" {
			continue
		}
		envs[envName] = s
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("%w: no %s sections in %s", ErrProjectConfigUnavailable, EnvPrefix, path)
	}
	return envs, nil
}

// IsBoardNotSupported reports whether err indicates an unsupported board.
func IsBoardNotSupported(err error) bool {
	return errors.Is(err, ErrBoardNotSupported)
}

// IsProjectConfigUnavailable reports whether err indicates a missing or empty project file.
func IsProjectConfigUnavailable(err error) bool {
	return errors.Is(err, ErrProjectConfigUnavailable)
}
