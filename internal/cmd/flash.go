package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/pkg/compiler"
)

var (
	flashBoard string
	flashPort  string
	flashJSON  bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <image>",
	Short: "Write a prebuilt Intel HEX image to a board",
	Long: `Write a prebuilt image to the board with avrdude.

The image is a local path, a file:// URI, or an s3://bucket/key object.

Examples:
  goflash flash --board uno firmware.hex
  goflash flash --board bt328 --port COM5 s3://firmware/bt328/blink.hex`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

type flashOutput struct {
	Board  string `json:"board"`
	Port   string `json:"port"`
	OK     bool   `json:"ok"`
	Stdout string `json:"out"`
	Stderr string `json:"err"`
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&flashBoard, "board", "b", compiler.DefaultBoard, "Board id (platformio.ini environment)")
	flashCmd.Flags().StringVarP(&flashPort, "port", "p", "", "Serial port (default: probe connected ports)")
	flashCmd.Flags().BoolVar(&flashJSON, "json", false, "Print the flash result as JSON")
}

func runFlash(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	a, err := newAgent(cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize agent", err)
	}

	f, err := a.registry.Get(flashBoard)
	if err != nil {
		return compilerExit("Invalid board", err)
	}
	res, err := f.UploadImage(cmd.Context(), args[0], flashPort)
	if err != nil {
		return compilerExit("Flash failed", err)
	}

	port := flashPort
	if port == "" {
		port = f.LastPort()
	}
	out := cmd.OutOrStdout()
	if flashJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(flashOutput{Board: f.Board(), Port: port, OK: res.OK, Stdout: res.Stdout, Stderr: res.Stderr}); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(out, "port=%s\nok=%t\n", port, res.OK)
	}

	if !res.OK {
		observability.CLILogger.Warn(res.Stderr)
		return exitError(exitBuildFailed, "Flash not confirmed", errors.New("avrdude did not report written flash bytes"))
	}
	return nil
}
