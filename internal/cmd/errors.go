package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/goflash/pkg/compiler"
)

// exitBuildFailed is returned when a build ran and reported failure, or a
// flash was not confirmed.
const exitBuildFailed = 1

// exitCodeFor maps a facade error onto a process exit code.
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	code, ok := compiler.CodeOf(err)
	if !ok {
		return foundry.ExitExternalServiceUnavailable
	}
	switch code {
	case compiler.CodeBoardNotSet, compiler.CodeBoardNotSupported:
		return foundry.ExitInvalidArgument
	case compiler.CodeProjectConfigUnavailable:
		return foundry.ExitFileNotFound
	case compiler.CodeImageUnavailable:
		return foundry.ExitFileReadError
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

// compilerExit wraps a facade error for the CLI.
func compilerExit(message string, err error) error {
	if compiler.IsCode(err, compiler.CodeNoPortFound) {
		message += " (check the board is connected and matches --board)"
	}
	return exitError(exitCodeFor(err), message, err)
}
