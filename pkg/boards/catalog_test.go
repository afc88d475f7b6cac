package boards

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boardsassets "github.com/3leaps/goflash/internal/assets/boards"
)

func TestLoadYAML_EmbeddedCatalog(t *testing.T) {
	cat, err := LoadYAML(boardsassets.Catalog)
	require.NoError(t, err)

	b, err := cat.Lookup("bt328")
	require.NoError(t, err)
	assert.Equal(t, "bt328", b.ID)
	assert.Equal(t, "atmega328p", b.Build.MCU)
	assert.Equal(t, 19200, b.Upload.Speed)

	assert.Contains(t, cat.IDs(), "uno")
}

func TestLoadYAML_RejectsIncompleteBoard(t *testing.T) {
	_, err := LoadYAML([]byte("boards:\n  broken:\n    build: {mcu: atmega328p}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.speed")
}

func TestMapCatalog_UnknownBoard(t *testing.T) {
	cat := MapCatalog{}
	_, err := cat.Lookup("nope")
	require.ErrorIs(t, err, ErrUnknownBoard)
}

func TestDirCatalog_Lookup(t *testing.T) {
	dir := t.TempDir()
	def := `{"name":"Custom","build":{"mcu":"atmega168"},"upload":{"speed":19200}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom168.json"), []byte(def), 0644))

	cat := NewDirCatalog(dir)

	b, err := cat.Lookup("custom168")
	require.NoError(t, err)
	assert.Equal(t, "atmega168", b.Build.MCU)
	assert.Equal(t, 19200, b.Upload.Speed)

	_, err = cat.Lookup("missing")
	require.ErrorIs(t, err, ErrUnknownBoard)

	_, err = cat.Lookup("../custom168")
	require.ErrorIs(t, err, ErrUnknownBoard)
}

func TestChain_FallsThroughUnknown(t *testing.T) {
	first := MapCatalog{"a": {Build: Build{MCU: "m1"}, Upload: Upload{Speed: 1}}}
	second := MapCatalog{"b": {Build: Build{MCU: "m2"}, Upload: Upload{Speed: 2}}}

	cat := Chain(first, nil, second)

	b, err := cat.Lookup("b")
	require.NoError(t, err)
	assert.Equal(t, "m2", b.Build.MCU)

	_, err = cat.Lookup("c")
	require.ErrorIs(t, err, ErrUnknownBoard)
}
