// Package avrdude drives the avrdude flashing utility.
//
// Two modes are supported:
//   - probe: connect to a port and read the device signature
//   - flash: write an Intel HEX image to the device
//
// Success in both modes is decided by phrase matching on the combined
// stdout/stderr of the utility; its exit code is not interpreted.
package avrdude

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	// SignatureMarker appears in avrdude output when a matching device answered.
	SignatureMarker = "Device signature ="

	// FlashWrittenMarker appears in avrdude output after a successful image write.
	FlashWrittenMarker = "bytes of flash written"

	// Programmer is the programmer id used for bootloader-based boards.
	Programmer = "arduino"
)

// Output is the captured output of one avrdude run.
type Output struct {
	Stdout string `json:"out"`
	Stderr string `json:"err"`
}

// Contains reports whether phrase appears in stdout or stderr.
func (o Output) Contains(phrase string) bool {
	return strings.Contains(o.Stdout, phrase) || strings.Contains(o.Stderr, phrase)
}

// FlashResult is the outcome of an image write.
type FlashResult struct {
	OK bool `json:"ok"`
	Output
}

// Tool runs avrdude with a fixed executable and configuration file.
type Tool struct {
	Path       string
	ConfigPath string
	Logger     *zap.Logger
}

// Locate picks the avrdude executable and configuration shipped in resDir
// for the current platform.
func Locate(resDir string) (*Tool, error) {
	return locate(resDir, runtime.GOOS, strconv.IntSize == 64)
}

func locate(resDir, goos string, is64 bool) (*Tool, error) {
	var exe, conf string
	switch goos {
	case "windows":
		exe, conf = "avrdude.exe", "avrdude.conf"
	case "darwin":
		exe, conf = "avrdude", "avrdude.conf"
	case "linux":
		if is64 {
			exe, conf = "avrdude64", "avrdude.conf"
		} else {
			exe, conf = "avrdude", "avrdude32.conf"
		}
	default:
		return nil, fmt.Errorf("platform not supported: %s", goos)
	}
	return &Tool{
		Path:       filepath.Join(resDir, exe),
		ConfigPath: filepath.Join(resDir, conf),
	}, nil
}

func (t *Tool) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

// ProbeArgs returns the arguments that read the device signature on port.
func ProbeArgs(port, mcu string, baud int) []string {
	return []string{"-P", port, "-p", mcu, "-b", strconv.Itoa(baud), "-c", Programmer}
}

// FlashArgs returns the arguments that write the Intel HEX image to the device.
func FlashArgs(port, mcu string, baud int, image string) []string {
	return []string{
		"-V",
		"-P", port,
		"-p", mcu,
		"-b", strconv.Itoa(baud),
		"-c", Programmer,
		"-D",
		"-U", "flash:w:" + image + ":i",
	}
}

// Run executes avrdude with args, prefixed by the configuration flag.
//
// An error is returned only when the process could not be started; a
// non-zero exit is reported through the captured output.
func (t *Tool) Run(ctx context.Context, args ...string) (Output, error) {
	if t == nil || strings.TrimSpace(t.Path) == "" {
		return Output{}, fmt.Errorf("avrdude executable is not configured")
	}
	ensureExecutable(t.Path)

	full := make([]string, 0, len(args)+2)
	if t.ConfigPath != "" {
		full = append(full, "-C", t.ConfigPath)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, t.Path, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger().Debug("Running avrdude", zap.String("path", t.Path), zap.Strings("args", full))
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if _, exited := err.(*exec.ExitError); !exited {
			return out, fmt.Errorf("run avrdude: %w", err)
		}
	}
	return out, nil
}

// Probe reports whether a device with the given mcu answers on port.
func (t *Tool) Probe(ctx context.Context, port, mcu string, baud int) (bool, error) {
	out, err := t.Run(ctx, ProbeArgs(port, mcu, baud)...)
	if err != nil {
		return false, err
	}
	t.logger().Debug("Probe output", zap.String("port", port),
		zap.String("stdout", out.Stdout), zap.String("stderr", out.Stderr))
	return out.Contains(SignatureMarker), nil
}

// Flash writes the Intel HEX file at image to the device on port.
//
// FlashResult.OK is true only when the utility reported written flash bytes.
func (t *Tool) Flash(ctx context.Context, port, mcu string, baud int, image string) (*FlashResult, error) {
	if _, err := os.Stat(image); err != nil {
		return nil, fmt.Errorf("image not readable: %w", err)
	}
	out, err := t.Run(ctx, FlashArgs(port, mcu, baud, image)...)
	if err != nil {
		return nil, err
	}
	return &FlashResult{OK: out.Contains(FlashWrittenMarker), Output: out}, nil
}

// ensureExecutable forces the executable bit; bundled binaries lose it in
// some archive formats.
func ensureExecutable(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0111 == 0111 {
		return
	}
	_ = os.Chmod(path, 0755)
}
