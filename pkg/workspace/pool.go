// Package workspace implements a fixed-capacity pool of numbered build
// workspaces.
//
// Each workspace is an exclusive copy of a canonical project template plus
// one generated source file. Jobs allocate a workspace, build inside it, and
// release it; release deletes the copy.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultCapacity is the number of slots when Options.Capacity is zero.
	DefaultCapacity = 150

	// DefaultPollInterval is the back-off between allocation attempts on a
	// saturated pool.
	DefaultPollInterval = 300 * time.Millisecond

	// DefaultSourceDir is the folder, relative to the workspace, that
	// receives the submitted source.
	DefaultSourceDir = "src"

	// DefaultSourceFile is the name of the generated source file.
	DefaultSourceFile = "main.ino"
)

// ErrForeignWorkspace is returned when releasing a workspace that does not
// belong to the pool.
var ErrForeignWorkspace = errors.New("workspace does not belong to this pool")

// Options configures a Pool.
type Options struct {
	// Root is the directory holding the numbered slot directories.
	Root string

	// TemplateDir is the canonical project tree copied into each slot.
	TemplateDir string

	// Capacity is the number of slots. Zero uses DefaultCapacity.
	Capacity int

	// PollInterval paces retries while the pool is saturated.
	// Zero uses DefaultPollInterval.
	PollInterval time.Duration

	// SourceDir and SourceFile locate the generated source inside a slot.
	SourceDir  string
	SourceFile string

	// Exclude lists doublestar patterns (relative to TemplateDir, slash
	// separated) that are not copied, e.g. ".pio/**".
	Exclude []string

	Logger *zap.Logger
}

// Workspace is one allocated slot.
type Workspace struct {
	Slot int
	Path string

	pool     *Pool
	released atomic.Bool
}

// SourcePath returns the path of the generated source file.
func (w *Workspace) SourcePath() string {
	return filepath.Join(w.Path, w.pool.opts.SourceDir, w.pool.opts.SourceFile)
}

// Pool hands out exclusive workspaces from a fixed slot table.
//
// One mutex guards the slot table and is held across slot selection and
// materialization, so at most one workspace is being populated at a time and
// no two jobs can observe the same slot as free.
type Pool struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	slots []bool // index 0 unused; slots[i] is true while slot i is occupied
	inUse int
}

// New validates opts and creates the pool root.
func New(opts Options) (*Pool, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if strings.TrimSpace(opts.TemplateDir) == "" {
		return nil, fmt.Errorf("workspace template dir cannot be empty")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SourceDir == "" {
		opts.SourceDir = DefaultSourceDir
	}
	if opts.SourceFile == "" {
		opts.SourceFile = DefaultSourceFile
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid workspace exclude pattern %q", pattern)
		}
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	opts.Root = root
	tmpl, err := filepath.Abs(opts.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace template: %w", err)
	}
	opts.TemplateDir = tmpl

	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		opts:   opts,
		logger: logger,
		slots:  make([]bool, opts.Capacity+1),
	}, nil
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int {
	return p.opts.Capacity
}

// Root returns the directory holding the slot directories.
func (p *Pool) Root() string {
	return p.opts.Root
}

// InUse returns the number of occupied slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Allocate returns a freshly materialized workspace holding source.
//
// When every slot is occupied Allocate waits and retries at the poll
// interval. It never fails because the pool is full; it returns only when a
// slot is obtained, materialization fails, or ctx is done.
func (p *Pool) Allocate(ctx context.Context, source string) (*Workspace, error) {
	limiter := rate.NewLimiter(rate.Every(p.opts.PollInterval), 1)
	waiting := false
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("wait for workspace slot: %w", ctxErr)
			}
			return nil, fmt.Errorf("wait for workspace slot: %w", err)
		}

		ws, ok, err := p.tryAllocate(source)
		if err != nil {
			return nil, err
		}
		if ok {
			if waiting {
				p.logger.Debug("Workspace slot obtained after wait", zap.Int("slot", ws.Slot))
			}
			return ws, nil
		}
		if !waiting {
			waiting = true
			p.logger.Info("Workspace pool saturated, waiting for a free slot",
				zap.Int("capacity", p.opts.Capacity))
		}
	}
}

func (p *Pool) tryAllocate(source string) (*Workspace, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := 0
	for i := 1; i < len(p.slots); i++ {
		if !p.slots[i] {
			slot = i
			break
		}
	}
	if slot == 0 {
		return nil, false, nil
	}

	path := p.slotPath(slot)
	if err := p.materialize(path, source); err != nil {
		// The slot was never marked occupied; only its directory needs reclaiming.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			p.logger.Warn("Failed to reclaim workspace after materialization error",
				zap.Int("slot", slot), zap.Error(rmErr))
		}
		return nil, false, fmt.Errorf("materialize workspace %d: %w", slot, err)
	}

	p.slots[slot] = true
	p.inUse++
	p.logger.Debug("Workspace allocated", zap.Int("slot", slot), zap.String("path", path))
	return &Workspace{Slot: slot, Path: path, pool: p}, true, nil
}

// Release deletes the workspace directory and frees its slot.
//
// Release is idempotent: releasing twice, or releasing a workspace whose
// directory was already removed, is not an error. The slot is freed even
// when the directory cannot be removed; the next materialization clears it.
func (p *Pool) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	if ws.pool != p || ws.Slot < 1 || ws.Slot >= len(p.slots) {
		return ErrForeignWorkspace
	}
	if !ws.released.CompareAndSwap(false, true) {
		return nil
	}

	rmErr := p.removeSlotDir(ws.Path)

	p.mu.Lock()
	if p.slots[ws.Slot] {
		p.slots[ws.Slot] = false
		p.inUse--
	}
	p.mu.Unlock()

	p.logger.Debug("Workspace released", zap.Int("slot", ws.Slot))
	if rmErr != nil {
		return fmt.Errorf("remove workspace %d: %w", ws.Slot, rmErr)
	}
	return nil
}

func (p *Pool) slotPath(slot int) string {
	return filepath.Join(p.opts.Root, strconv.Itoa(slot))
}

func (p *Pool) removeSlotDir(path string) error {
	rel, err := filepath.Rel(p.opts.Root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove path outside workspace root: %s", path)
	}
	return os.RemoveAll(path)
}

func (p *Pool) materialize(path, source string) error {
	if err := p.removeSlotDir(path); err != nil {
		return fmt.Errorf("clear stale workspace: %w", err)
	}
	if err := copyTree(p.opts.TemplateDir, path, p.opts.Exclude, p.opts.Root); err != nil {
		return err
	}
	srcDir := filepath.Join(path, p.opts.SourceDir)
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, p.opts.SourceFile), []byte(source), 0644); err != nil {
		return fmt.Errorf("write source file: %w", err)
	}
	return nil
}
