package pio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakePlatformio = `#!/bin/sh
echo "platformio $*"
case "$*" in
  *"-e broken"*) echo "src/main.ino:1:1: error: boom" >&2; exit 1 ;;
esac
echo "Program:     924 bytes (2.8% Full)"
echo "Data:          9 bytes (0.4% Full)"
`

func fakeDriver(t *testing.T) *Driver {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "platformio")
	require.NoError(t, os.WriteFile(path, []byte(fakePlatformio), 0755))
	return &Driver{Executable: path}
}

func TestArgs(t *testing.T) {
	assert.Equal(t, []string{"run", "-e", "uno", "-d", "/ws/1"}, Args("uno", "/ws/1", false, ""))
	assert.Equal(t,
		[]string{"run", "-e", "uno", "-d", "/ws/1", "-t", "upload", "--upload-port", "COM5"},
		Args("uno", "/ws/1", true, "COM5"))
	assert.Equal(t, []string{"run", "-e", "uno", "-d", "/ws/1", "-t", "upload"}, Args("uno", "/ws/1", true, ""))
}

func TestBuild_Success(t *testing.T) {
	d := fakeDriver(t)
	var log bytes.Buffer
	d.Log = &log
	ws := t.TempDir()

	res, err := d.Build(context.Background(), "uno", ws, true, "/dev/ttyUSB0")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "platformio run -e uno -d "+ws+" -t upload --upload-port /dev/ttyUSB0")
	require.NotNil(t, res.Size)
	assert.Equal(t, 924, res.Size.Program)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, res.Output, log.String())
}

func TestBuild_CompileFailure(t *testing.T) {
	res, err := fakeDriver(t).Build(context.Background(), "broken", t.TempDir(), false, "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "boom", res.Diagnostics[0].Message)
	assert.Nil(t, res.Size)
}

func TestBuild_MissingExecutable(t *testing.T) {
	d := &Driver{Executable: filepath.Join(t.TempDir(), "nope")}
	_, err := d.Build(context.Background(), "uno", t.TempDir(), false, "")
	require.Error(t, err)
}
