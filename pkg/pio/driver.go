// Package pio drives the PlatformIO command line inside a build workspace.
//
// It is the child side of the buildrun contract: Build runs one
// `platformio run` and converts its output into a buildrun.Result.
package pio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/goflash/pkg/buildrun"
)

// DefaultExecutable is the PlatformIO command looked up on PATH.
const DefaultExecutable = "platformio"

// Driver runs PlatformIO builds.
type Driver struct {
	Executable string

	// Log, when set, receives the raw tool output as it is produced.
	Log io.Writer

	Logger *zap.Logger
}

func (d *Driver) executable() string {
	if strings.TrimSpace(d.Executable) == "" {
		return DefaultExecutable
	}
	return d.Executable
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Args returns the `platformio run` arguments for one environment.
func Args(env, projectDir string, upload bool, port string) []string {
	args := []string{"run", "-e", env, "-d", projectDir}
	if upload {
		args = append(args, "-t", "upload")
		if port != "" {
			args = append(args, "--upload-port", port)
		}
	}
	return args
}

// Build compiles (and optionally uploads) the project in projectDir.
//
// A build that ran but failed is reported as a Result with Success false.
// An error is returned only when the tool could not be started or ctx ended.
func (d *Driver) Build(ctx context.Context, env, projectDir string, upload bool, port string) (*buildrun.Result, error) {
	args := Args(env, projectDir, upload, port)
	cmd := exec.CommandContext(ctx, d.executable(), args...)
	cmd.Dir = projectDir

	var out bytes.Buffer
	var sink io.Writer = &out
	if d.Log != nil {
		sink = io.MultiWriter(&out, d.Log)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	start := time.Now()
	d.logger().Debug("Running platformio", zap.String("exe", d.executable()), zap.Strings("args", args))
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run platformio: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run platformio: %w", ctxErr)
		}
	}

	text := out.String()
	res := &buildrun.Result{
		Success:     err == nil,
		Output:      text,
		Diagnostics: ParseDiagnostics(text),
		Size:        ParseSize(text),
	}
	d.logger().Debug("platformio finished",
		zap.Bool("success", res.Success),
		zap.Int("diagnostics", len(res.Diagnostics)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
