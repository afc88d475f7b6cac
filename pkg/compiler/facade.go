// Package compiler is the public entry point for compiling and uploading
// microcontroller code.
//
// A Facade is bound to one board id. It resolves the board against the
// project configuration before every operation, finds the board's serial
// port when one is needed, runs the build in an exclusive workspace, and
// reports failures as *Error values with a stable numeric Code.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/goflash/pkg/avrdude"
	"github.com/3leaps/goflash/pkg/boardconfig"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/imagesource"
	"github.com/3leaps/goflash/pkg/jobregistry"
	"github.com/3leaps/goflash/pkg/workspace"
)

// DefaultBoard is the --board default of the CLI commands. The HTTP API has
// no default: an empty board is CodeBoardNotSet.
const DefaultBoard = "bt328"

// Resolver resolves board ids to their configuration.
type Resolver interface {
	Resolve(board string) (*boardconfig.BoardConfig, error)
}

// PortFinder locates the serial port of a board.
type PortFinder interface {
	FindPort(ctx context.Context, mcu string, baud int, preferred string) (string, error)
}

// WorkspacePool hands out exclusive build workspaces.
type WorkspacePool interface {
	Allocate(ctx context.Context, source string) (*workspace.Workspace, error)
	Release(ws *workspace.Workspace) error
}

// Builder runs a build inside a workspace.
type Builder interface {
	Run(ctx context.Context, env, workspacePath string, upload bool, port string) (*buildrun.Result, error)
}

// Flasher writes a prebuilt image to a board.
type Flasher interface {
	Flash(ctx context.Context, port, mcu string, baud int, image string) (*avrdude.FlashResult, error)
}

// ImageFetcher resolves image references to local files.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (*imagesource.Image, error)
}

// Deps are the collaborators shared by every Facade.
type Deps struct {
	Resolver Resolver
	Ports    PortFinder
	Pool     WorkspacePool
	Builder  Builder
	Flasher  Flasher
	Images   ImageFetcher

	// Jobs records every operation. Nil disables recording.
	Jobs *jobregistry.Recorder

	Logger *zap.Logger
}

// Facade compiles and uploads code for one board.
//
// A Facade with an empty board is unconfigured; every operation then fails
// with CodeBoardNotSet. Operations never change the board.
type Facade struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	board    string
	lastPort string
}

// New returns a Facade for board. A non-empty board is validated first.
func New(board string, deps Deps) (*Facade, error) {
	if deps.Resolver == nil {
		return nil, fmt.Errorf("compiler: resolver is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Facade{deps: deps, logger: logger}

	board = strings.TrimSpace(board)
	if board != "" {
		if err := f.SetBoard(board); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Board returns the configured board id, or "" when unconfigured.
func (f *Facade) Board() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.board
}

// LastPort returns the last port a board answered on.
func (f *Facade) LastPort() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPort
}

// SetBoard validates board and makes it current. On failure the previous
// board is kept.
func (f *Facade) SetBoard(board string) error {
	board = strings.TrimSpace(board)
	if _, err := f.resolve(board); err != nil {
		return err
	}
	f.mu.Lock()
	f.board = board
	f.mu.Unlock()
	return nil
}

// Config resolves the current board.
func (f *Facade) Config() (*boardconfig.BoardConfig, error) {
	return f.resolve(f.Board())
}

func (f *Facade) resolve(board string) (*boardconfig.BoardConfig, error) {
	if board == "" {
		return nil, classify(board, errBoardNotSet)
	}
	cfg, err := f.deps.Resolver.Resolve(board)
	if err != nil {
		return nil, classify(board, err)
	}
	return cfg, nil
}

// Port finds the serial port the board is attached to. The last port found
// is probed first.
func (f *Facade) Port(ctx context.Context) (string, error) {
	cfg, err := f.Config()
	if err != nil {
		return "", err
	}
	return f.findPort(ctx, cfg)
}

func (f *Facade) findPort(ctx context.Context, cfg *boardconfig.BoardConfig) (string, error) {
	if f.deps.Ports == nil {
		return "", classify(cfg.Board, fmt.Errorf("port scanner is not configured"))
	}
	port, err := f.deps.Ports.FindPort(ctx, cfg.MCU, cfg.UploadBaudRate, f.LastPort())
	if err != nil {
		return "", classify(cfg.Board, err)
	}

	f.mu.Lock()
	f.lastPort = port
	f.mu.Unlock()
	f.logger.Info("Found board port", zap.String("board", cfg.Board), zap.String("port", port))
	return port, nil
}

// Compile builds code for the board.
//
// A build that ran and failed is returned as a Result with Success false,
// not as an error.
func (f *Facade) Compile(ctx context.Context, code string) (*buildrun.Result, error) {
	return f.run(ctx, code, false, "")
}

// Upload builds code and uploads it to the board on port. An empty port is
// discovered with Port first.
func (f *Facade) Upload(ctx context.Context, code, port string) (*buildrun.Result, error) {
	return f.run(ctx, code, true, strings.TrimSpace(port))
}

func (f *Facade) run(ctx context.Context, code string, upload bool, port string) (*buildrun.Result, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	if f.deps.Pool == nil || f.deps.Builder == nil {
		return nil, classify(cfg.Board, fmt.Errorf("build pipeline is not configured"))
	}

	kind := jobregistry.JobKindCompile
	if upload {
		kind = jobregistry.JobKindUpload
	}
	job := f.deps.Jobs.Begin(kind, cfg.Board)
	log := f.logger.With(zap.String("board", cfg.Board), zap.String("job_id", job.ID()))

	if upload && port == "" {
		if port, err = f.findPort(ctx, cfg); err != nil {
			finishFailed(job, nil, err)
			return nil, err
		}
	}
	job.SetPort(port)

	ws, err := f.deps.Pool.Allocate(ctx, code)
	if err != nil {
		ce := classify(cfg.Board, fmt.Errorf("%w: %w", errWorkspace, err))
		finishFailed(job, nil, ce)
		return nil, ce
	}
	defer func() {
		if err := f.deps.Pool.Release(ws); err != nil {
			log.Warn("Failed to release workspace", zap.Int("slot", ws.Slot), zap.Error(err))
		}
	}()
	job.SetSlot(ws.Slot)
	log.Debug("Build started", zap.Int("slot", ws.Slot), zap.Bool("upload", upload), zap.String("port", port))

	res, err := f.deps.Builder.Run(ctx, cfg.EnvironmentName, ws.Path, upload, port)
	if err != nil {
		ce := classify(cfg.Board, err)
		finishFailed(job, streamOf(err), ce)
		return nil, ce
	}

	job.Finish(res.Success, []byte(res.Log+res.Output), nil)
	log.Info("Build finished", zap.Bool("success", res.Success), zap.Bool("upload", upload))
	return res, nil
}

// UploadImage writes the prebuilt image referenced by imageRef to the board
// on port. An empty port is discovered with Port first.
//
// FlashResult.OK reports whether the flashing utility confirmed the write.
func (f *Facade) UploadImage(ctx context.Context, imageRef, port string) (*avrdude.FlashResult, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	if f.deps.Flasher == nil || f.deps.Images == nil {
		return nil, classify(cfg.Board, fmt.Errorf("flash pipeline is not configured"))
	}

	job := f.deps.Jobs.Begin(jobregistry.JobKindFlash, cfg.Board)
	job.SetImage(imageRef)

	img, err := f.deps.Images.Fetch(ctx, imageRef)
	if err != nil {
		ce := classify(cfg.Board, err)
		finishFailed(job, nil, ce)
		return nil, ce
	}
	defer func() {
		if err := img.Close(); err != nil {
			f.logger.Warn("Failed to remove downloaded image", zap.String("path", img.Path), zap.Error(err))
		}
	}()

	port = strings.TrimSpace(port)
	if port == "" {
		if port, err = f.findPort(ctx, cfg); err != nil {
			finishFailed(job, nil, err)
			return nil, err
		}
	}
	job.SetPort(port)

	res, err := f.deps.Flasher.Flash(ctx, port, cfg.MCU, cfg.UploadBaudRate, img.Path)
	if err != nil {
		ce := classify(cfg.Board, err)
		finishFailed(job, nil, ce)
		return nil, ce
	}

	job.Finish(res.OK, []byte(res.Stdout+res.Stderr), nil)
	f.logger.Info("Image flashed",
		zap.String("board", cfg.Board),
		zap.String("port", port),
		zap.Bool("ok", res.OK))
	return res, nil
}

func finishFailed(job *jobregistry.Job, output []byte, err error) {
	ce := classify("", err)
	job.Finish(false, output, &jobregistry.JobError{Code: int(ce.Code), Message: ce.Message})
}

func streamOf(err error) []byte {
	var pe *buildrun.ProtocolError
	if errors.As(err, &pe) {
		return []byte(pe.Stream)
	}
	return nil
}
