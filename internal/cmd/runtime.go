package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	boardsassets "github.com/3leaps/goflash/internal/assets/boards"
	"github.com/3leaps/goflash/internal/config"
	"github.com/3leaps/goflash/pkg/avrdude"
	"github.com/3leaps/goflash/pkg/boardconfig"
	"github.com/3leaps/goflash/pkg/boards"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/compiler"
	"github.com/3leaps/goflash/pkg/imagesource"
	"github.com/3leaps/goflash/pkg/jobregistry"
	"github.com/3leaps/goflash/pkg/portscan"
	"github.com/3leaps/goflash/pkg/workspace"
)

// agent bundles the collaborators built from configuration.
type agent struct {
	cfg      *config.Config
	resolver *boardconfig.Resolver
	pool     *workspace.Pool
	tool     *avrdude.Tool
	scanner  *portscan.Scanner
	runner   *buildrun.Runner
	images   *imagesource.Resolver
	jobs     *jobregistry.Recorder
	registry *compiler.Registry
}

func newCatalog(cfg *config.Config) (boards.Catalog, error) {
	embedded, err := boards.LoadYAML(boardsassets.Catalog)
	if err != nil {
		return nil, fmt.Errorf("load embedded board catalog: %w", err)
	}
	if dir := strings.TrimSpace(cfg.Project.BoardsDir); dir != "" {
		return boards.Chain(boards.NewDirCatalog(dir), embedded), nil
	}
	return embedded, nil
}

func newAvrdude(cfg *config.Config, logger *zap.Logger) (*avrdude.Tool, error) {
	var tool *avrdude.Tool
	if path := strings.TrimSpace(cfg.Avrdude.Path); path != "" {
		tool = &avrdude.Tool{Path: path, ConfigPath: strings.TrimSpace(cfg.Avrdude.Config)}
	} else {
		located, err := avrdude.Locate(cfg.Avrdude.ResDir)
		if err != nil {
			return nil, err
		}
		tool = located
		if c := strings.TrimSpace(cfg.Avrdude.Config); c != "" {
			tool.ConfigPath = c
		}
	}
	tool.Logger = logger.Named("avrdude")
	return tool, nil
}

func buildExecutable(cfg *config.Config) (string, error) {
	if exe := strings.TrimSpace(cfg.Build.Executable); exe != "" {
		return exe, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable: %w", err)
	}
	return exe, nil
}

// childEnv forwards --config to build children, which run in their own
// workspace directory and would otherwise miss the file's pio settings.
func childEnv() ([]string, error) {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config file %s: %w", path, err)
	}
	return []string{config.EnvPrefix + "_CONFIG=" + abs}, nil
}

// newAgent wires the compiler registry and its collaborators.
func newAgent(cfg *config.Config, logger *zap.Logger) (*agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := newCatalog(cfg)
	if err != nil {
		return nil, err
	}
	resolver := boardconfig.NewResolver(cfg.Project.Dir, catalog)

	pool, err := workspace.New(workspace.Options{
		Root:         cfg.Workspace.Root,
		TemplateDir:  cfg.Project.Dir,
		Capacity:     cfg.Workspace.Capacity,
		PollInterval: cfg.Workspace.PollInterval,
		SourceDir:    cfg.Workspace.SourceDir,
		SourceFile:   cfg.Workspace.SourceFile,
		Exclude:      cfg.Workspace.Exclude,
		Logger:       logger.Named("workspace"),
	})
	if err != nil {
		return nil, fmt.Errorf("create workspace pool: %w", err)
	}

	tool, err := newAvrdude(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("locate avrdude: %w", err)
	}

	scanner, err := portscan.New(portscan.SerialEnumerator{USBOnly: cfg.Scan.USBOnly}, tool, portscan.Options{
		Timeout:      cfg.Scan.Timeout,
		ProbeTimeout: cfg.Scan.ProbeTimeout,
		Include:      cfg.Scan.Include,
		Exclude:      cfg.Scan.Exclude,
		Logger:       logger.Named("portscan"),
	})
	if err != nil {
		return nil, fmt.Errorf("create port scanner: %w", err)
	}

	exe, err := buildExecutable(cfg)
	if err != nil {
		return nil, err
	}
	env, err := childEnv()
	if err != nil {
		return nil, err
	}
	runner := &buildrun.Runner{
		Executable: exe,
		Args:       cfg.Build.Args,
		Env:        env,
		Logger:     logger.Named("buildrun"),
	}

	images := imagesource.NewResolver(imagesource.Options{
		S3:      cfg.Images.S3,
		TempDir: cfg.Images.TempDir,
		Logger:  logger.Named("images"),
	})

	var jobs *jobregistry.Recorder
	if cfg.Jobs.Enabled {
		jobs = jobregistry.NewRecorder(cfg.Jobs.Dir, logger.Named("jobs"))
	}

	registry := compiler.NewRegistry(compiler.Deps{
		Resolver: resolver,
		Ports:    scanner,
		Pool:     pool,
		Builder:  runner,
		Flasher:  tool,
		Images:   images,
		Jobs:     jobs,
		Logger:   logger.Named("compiler"),
	})

	return &agent{
		cfg:      cfg,
		resolver: resolver,
		pool:     pool,
		tool:     tool,
		scanner:  scanner,
		runner:   runner,
		images:   images,
		jobs:     jobs,
		registry: registry,
	}, nil
}
