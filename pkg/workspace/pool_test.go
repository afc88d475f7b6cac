package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTemplate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "platformio.ini"), []byte("[env:uno]\nboard = uno\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib", "servo"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "servo", "servo.h"), []byte("// servo"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".pio", "build"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pio", "build", "firmware.hex"), []byte(":00000001FF"), 0644))
	return dir
}

func newPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	p, err := New(Options{
		Root:         filepath.Join(t.TempDir(), "parallel"),
		TemplateDir:  newTemplate(t),
		Capacity:     capacity,
		PollInterval: 5 * time.Millisecond,
		Exclude:      []string{".pio/**"},
	})
	require.NoError(t, err)
	return p
}

func TestAllocate_MaterializesTemplateAndSource(t *testing.T) {
	p := newPool(t, 3)

	ws, err := p.Allocate(context.Background(), "void setup(){}")
	require.NoError(t, err)
	defer func() { _ = p.Release(ws) }()

	assert.Equal(t, 1, ws.Slot)
	assert.Equal(t, filepath.Join(p.Root(), "1"), ws.Path)

	src, err := os.ReadFile(ws.SourcePath())
	require.NoError(t, err)
	assert.Equal(t, "void setup(){}", string(src))
	assert.Equal(t, filepath.Join(ws.Path, "src", "main.ino"), ws.SourcePath())

	assert.FileExists(t, filepath.Join(ws.Path, "platformio.ini"))
	assert.FileExists(t, filepath.Join(ws.Path, "lib", "servo", "servo.h"))
	assert.NoFileExists(t, filepath.Join(ws.Path, ".pio", "build", "firmware.hex"))
	assert.Equal(t, 1, p.InUse())
}

func TestAllocate_LowestFreeSlot(t *testing.T) {
	p := newPool(t, 3)
	ctx := context.Background()

	a, err := p.Allocate(ctx, "a")
	require.NoError(t, err)
	b, err := p.Allocate(ctx, "b")
	require.NoError(t, err)
	c, err := p.Allocate(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, []int{a.Slot, b.Slot, c.Slot})

	require.NoError(t, p.Release(b))

	d, err := p.Allocate(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Slot)

	for _, ws := range []*Workspace{a, c, d} {
		require.NoError(t, p.Release(ws))
	}
	assert.Equal(t, 0, p.InUse())
}

func TestAllocate_BlocksWhenSaturatedUntilRelease(t *testing.T) {
	p := newPool(t, 2)
	ctx := context.Background()

	first, err := p.Allocate(ctx, "first")
	require.NoError(t, err)
	second, err := p.Allocate(ctx, "second")
	require.NoError(t, err)

	// Leave a stale file behind; the next job must not see it.
	require.NoError(t, os.WriteFile(filepath.Join(first.Path, "stale.txt"), []byte("x"), 0644))

	got := make(chan *Workspace, 1)
	go func() {
		ws, err := p.Allocate(ctx, "third")
		if err == nil {
			got <- ws
		}
	}()

	select {
	case <-got:
		t.Fatal("allocation should block while the pool is saturated")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(first))

	select {
	case ws := <-got:
		assert.Equal(t, first.Slot, ws.Slot)
		assert.NoFileExists(t, filepath.Join(ws.Path, "stale.txt"))
		src, err := os.ReadFile(ws.SourcePath())
		require.NoError(t, err)
		assert.Equal(t, "third", string(src))
		require.NoError(t, p.Release(ws))
	case <-time.After(5 * time.Second):
		t.Fatal("blocked allocation did not proceed after release")
	}

	require.NoError(t, p.Release(second))
}

func TestAllocate_ContextCancelledWhileWaiting(t *testing.T) {
	p := newPool(t, 1)

	held, err := p.Allocate(context.Background(), "held")
	require.NoError(t, err)
	defer func() { _ = p.Release(held) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = p.Allocate(ctx, "waiting")
	require.Error(t, err)
	assert.Equal(t, 1, p.InUse())
}

func TestAllocate_ConcurrentJobsNeverShareASlot(t *testing.T) {
	const capacity = 3
	const jobs = 24

	p := newPool(t, capacity)

	var mu sync.Mutex
	holders := map[int]int{}
	overlaps := 0

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := p.Allocate(context.Background(), "job-"+strconv.Itoa(i))
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			if _, taken := holders[ws.Slot]; taken {
				overlaps++
			}
			holders[ws.Slot] = i
			mu.Unlock()

			src, err := os.ReadFile(ws.SourcePath())
			assert.NoError(t, err)
			assert.Equal(t, "job-"+strconv.Itoa(i), string(src))
			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			delete(holders, ws.Slot)
			mu.Unlock()

			assert.NoError(t, p.Release(ws))
		}(i)
	}
	wg.Wait()

	assert.Zero(t, overlaps)
	assert.Equal(t, 0, p.InUse())
}

func TestAllocate_MaterializationFailureReclaimsSlot(t *testing.T) {
	p, err := New(Options{
		Root:        filepath.Join(t.TempDir(), "parallel"),
		TemplateDir: filepath.Join(t.TempDir(), "does-not-exist"),
		Capacity:    1,
	})
	require.NoError(t, err)

	_, err = p.Allocate(context.Background(), "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "materialize workspace 1")
	assert.Equal(t, 0, p.InUse())
	assert.NoDirExists(t, filepath.Join(p.Root(), "1"))
}

func TestRelease_Idempotent(t *testing.T) {
	p := newPool(t, 2)

	ws, err := p.Allocate(context.Background(), "code")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(ws.Path))
	require.NoError(t, p.Release(ws))
	require.NoError(t, p.Release(ws))
	assert.Equal(t, 0, p.InUse())
}

func TestRelease_ForeignWorkspace(t *testing.T) {
	p := newPool(t, 1)
	other := newPool(t, 1)

	ws, err := other.Allocate(context.Background(), "code")
	require.NoError(t, err)
	defer func() { _ = other.Release(ws) }()

	require.ErrorIs(t, p.Release(ws), ErrForeignWorkspace)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{TemplateDir: t.TempDir()})
	require.Error(t, err)

	_, err = New(Options{Root: t.TempDir()})
	require.Error(t, err)

	_, err = New(Options{Root: t.TempDir(), TemplateDir: t.TempDir(), Exclude: []string{"[unclosed"}})
	require.Error(t, err)

	p, err := New(Options{Root: t.TempDir(), TemplateDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, p.Capacity())
}
