// Package buildrun runs a build process inside a workspace and decodes its
// tagged output.
//
// The child is invoked as
//
//	<exe> [prefix...] --board <env> --workSpace <path> [--upload --port <port>] parallelCompile
//
// and must print its logs, the result Marker, then one JSON object.
package buildrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CommandName is the trailing positional argument understood by the child.
const CommandName = "parallelCompile"

// Runner launches build processes.
type Runner struct {
	// Executable is the build program. A .py script is run through python.
	Executable string

	// Args are inserted between the executable and the contract flags.
	Args []string

	// Env is appended to the current environment of the child.
	Env []string

	// Decode parses the captured stream. Nil uses DecodeResult.
	Decode Decoder

	Logger *zap.Logger
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Command returns the program and arguments for one build.
func (r *Runner) Command(env, workspacePath string, upload bool, port string) (string, []string) {
	args := make([]string, 0, len(r.Args)+8)
	args = append(args, r.Args...)
	args = append(args, "--board", env, "--workSpace", workspacePath)
	if upload {
		args = append(args, "--upload", "--port", port)
	}
	args = append(args, CommandName)

	if strings.HasSuffix(r.Executable, ".py") {
		return "python", append([]string{r.Executable}, args...)
	}
	return r.Executable, args
}

// Run executes a build for the environment env inside workspacePath.
//
// stdout and stderr are captured as one stream; the exit code is ignored
// and only the decoded result decides the outcome. An error is returned when
// the process cannot be started, ctx ends, or the stream breaks the protocol.
func (r *Runner) Run(ctx context.Context, env, workspacePath string, upload bool, port string) (*Result, error) {
	if strings.TrimSpace(r.Executable) == "" {
		return nil, fmt.Errorf("build executable is not configured")
	}
	if upload && port == "" {
		return nil, fmt.Errorf("upload requires a port")
	}

	name, args := r.Command(env, workspacePath, upload, port)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workspacePath
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	start := time.Now()
	r.logger().Debug("Starting build process",
		zap.String("exe", name),
		zap.Strings("args", args),
		zap.String("workspace", workspacePath))

	stream, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run build process: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run build process: %w", ctxErr)
		}
	}

	decode := r.Decode
	if decode == nil {
		decode = DecodeResult
	}
	res, err := decode(stream)
	if err != nil {
		r.logger().Warn("Build process broke the result protocol",
			zap.String("workspace", workspacePath),
			zap.Int("output_bytes", len(stream)),
			zap.Error(err))
		return nil, err
	}

	r.logger().Debug("Build process finished",
		zap.Bool("success", res.Success),
		zap.Int("diagnostics", len(res.Diagnostics)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
