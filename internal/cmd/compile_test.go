package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goflash/pkg/buildrun"
)

func TestReadSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blink.ino")
	require.NoError(t, os.WriteFile(path, []byte("void setup(){}"), 0644))

	code, err := readSource([]string{path})
	require.NoError(t, err)
	assert.Equal(t, "void setup(){}", code)

	_, err = readSource([]string{filepath.Join(t.TempDir(), "missing.ino")})
	require.Error(t, err)
}

func TestPrintBuildResult(t *testing.T) {
	res := &buildrun.Result{
		Success: false,
		Output:  "src/main.ino:3:1: error: expected ';'\n",
		Diagnostics: []buildrun.Diagnostic{
			{File: "src/main.ino", Line: 3, Column: 1, Severity: "error", Message: "expected ';'"},
			{File: "src/main.ino", Line: 1, Column: 1, Severity: "warning", Message: "unused"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printBuildResult(&buf, res, "", false))
	out := buf.String()
	assert.Contains(t, out, "expected ';'")
	assert.Contains(t, out, "errors=1 warnings=1\n")
	assert.Contains(t, out, "success=false\n")
	assert.NotContains(t, out, "port=")

	res = &buildrun.Result{Success: true, Size: &buildrun.SizeReport{Program: 924, Data: 9}}
	buf.Reset()
	require.NoError(t, printBuildResult(&buf, res, "/dev/ttyUSB0", true))
	out = buf.String()
	assert.Contains(t, out, "program=924 data=9\n")
	assert.Contains(t, out, "success=true\n")
	assert.Contains(t, out, "port=/dev/ttyUSB0\n")
}

func TestPrintBuildResult_JSON(t *testing.T) {
	buildJSON = true
	defer func() { buildJSON = false }()

	var buf bytes.Buffer
	require.NoError(t, printBuildResult(&buf, &buildrun.Result{Success: true, Output: "ok"}, "", false))
	assert.Contains(t, buf.String(), `"success": true`)
	assert.Contains(t, buf.String(), `"output": "ok"`)
}

func setParallelFlags(t *testing.T, board, ws string, upload bool, port string) {
	t.Helper()
	oldBoard, oldWS, oldUpload, oldPort := pcBoard, pcWorkspace, pcUpload, pcPort
	pcBoard, pcWorkspace, pcUpload, pcPort = board, ws, upload, port
	t.Cleanup(func() {
		pcBoard, pcWorkspace, pcUpload, pcPort = oldBoard, oldWS, oldUpload, oldPort
	})
}

func runParallel(t *testing.T) *buildrun.Result {
	t.Helper()
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	c.SetContext(context.Background())

	require.NoError(t, runParallelCompile(c, nil))
	res, err := buildrun.DecodeResult(out.Bytes())
	require.NoError(t, err)
	return res
}

func TestParallelCompile_MissingFlagsStillEmitsResult(t *testing.T) {
	setParallelFlags(t, "", "", false, "")

	res := runParallel(t)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "--board is required")
}

func TestParallelCompile_RunsPlatformIO(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a unix shell")
	}
	isolateCLIConfig(t)

	dir := t.TempDir()
	fake := filepath.Join(dir, "platformio")
	script := "#!/bin/sh\necho \"pio $*\"\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0755))
	t.Setenv("GOFLASH_PLATFORMIO", fake)

	ws := t.TempDir()
	setParallelFlags(t, "uno", ws, false, "")

	res := runParallel(t)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "pio run -e uno -d "+ws)
	assert.Contains(t, res.Log, "pio run -e uno")
}

func TestParallelCompile_MissingExecutable(t *testing.T) {
	isolateCLIConfig(t)
	t.Setenv("GOFLASH_PLATFORMIO", filepath.Join(t.TempDir(), "no-such-platformio"))
	setParallelFlags(t, "uno", t.TempDir(), false, "")

	res := runParallel(t)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "run platformio")
}

// isolateCLIConfig keeps user config files out of command tests.
func isolateCLIConfig(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	t.Setenv("GOFLASH_CONFIG", "")
	old := cfgFile
	cfgFile = ""
	t.Cleanup(func() { cfgFile = old })
}
