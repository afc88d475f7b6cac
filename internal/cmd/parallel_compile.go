package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/pio"
)

// legacyParallelCompile is the trailing positional argument the workspace
// build runner passes to its child.
const legacyParallelCompile = buildrun.CommandName

var (
	pcBoard     string
	pcWorkspace string
	pcUpload    bool
	pcPort      string
)

var parallelCompileCmd = &cobra.Command{
	Use:    "parallel-compile",
	Short:  "Run one PlatformIO build inside a workspace (internal)",
	Hidden: true,
	Long: `Run one PlatformIO build inside a prepared workspace and print the
result marker followed by a single JSON result object.

This command is the child process of compile and upload. The result is
always printed, even when PlatformIO cannot be run.`,
	Args: cobra.NoArgs,
	RunE: runParallelCompile,
}

func init() {
	rootCmd.AddCommand(parallelCompileCmd)
	parallelCompileCmd.Flags().StringVar(&pcBoard, "board", "", "PlatformIO environment to build")
	parallelCompileCmd.Flags().StringVar(&pcWorkspace, "workSpace", "", "Workspace directory")
	parallelCompileCmd.Flags().BoolVar(&pcUpload, "upload", false, "Upload after building")
	parallelCompileCmd.Flags().StringVar(&pcPort, "port", "", "Upload port")
}

func runParallelCompile(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	logger := observability.CLILogger

	res, err := parallelCompile(cmd, logger)
	if err != nil {
		logger.Debug("Build could not run", zap.Error(err))
		res = &buildrun.Result{Success: false, Output: err.Error()}
	}
	if err := buildrun.EncodeResult(out, res); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write build result", err)
	}
	return nil
}

func parallelCompile(cmd *cobra.Command, logger *zap.Logger) (*buildrun.Result, error) {
	if strings.TrimSpace(pcBoard) == "" {
		return nil, fmt.Errorf("--board is required")
	}
	if strings.TrimSpace(pcWorkspace) == "" {
		return nil, fmt.Errorf("--workSpace is required")
	}

	executable := pio.DefaultExecutable
	if cfg, err := loadConfig(cmd.Context()); err == nil {
		if exe := strings.TrimSpace(cfg.PIO.Executable); exe != "" {
			executable = exe
		}
	} else {
		logger.Debug("Using default PlatformIO executable", zap.Error(err))
	}

	driver := &pio.Driver{
		Executable: executable,
		Log:        cmd.OutOrStdout(),
		Logger:     logger.Named("pio"),
	}
	return driver.Build(cmd.Context(), pcBoard, pcWorkspace, pcUpload, pcPort)
}
