package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/compiler"
)

var (
	buildBoard string
	buildPort  string
	buildJSON  bool
)

var compileCmd = &cobra.Command{
	Use:   "compile [file]",
	Short: "Compile a sketch for a board",
	Long: `Compile a sketch in an isolated workspace.

The sketch is read from the file argument, or from stdin when the argument
is omitted or "-".

Examples:
  goflash compile --board uno blink.ino
  cat blink.ino | goflash compile --board bt328 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompile,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Compile a sketch and upload it to a board",
	Long: `Compile a sketch and upload it to the board.

Without --port, connected serial ports are probed for the board first.

Examples:
  goflash upload --board uno blink.ino
  goflash upload --board uno --port /dev/ttyUSB0 blink.ino`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(uploadCmd)

	for _, c := range []*cobra.Command{compileCmd, uploadCmd} {
		c.Flags().StringVarP(&buildBoard, "board", "b", compiler.DefaultBoard, "Board id (platformio.ini environment)")
		c.Flags().BoolVar(&buildJSON, "json", false, "Print the build result as JSON")
	}
	uploadCmd.Flags().StringVarP(&buildPort, "port", "p", "", "Serial port (default: probe connected ports)")
}

var errBuildFailed = errors.New("build was not successful")

func readSource(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	return runBuild(cmd, args, false)
}

func runUpload(cmd *cobra.Command, args []string) error {
	return runBuild(cmd, args, true)
}

func runBuild(cmd *cobra.Command, args []string, upload bool) error {
	code, err := readSource(args)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read sketch", err)
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	a, err := newAgent(cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize agent", err)
	}

	f, err := a.registry.Get(buildBoard)
	if err != nil {
		return compilerExit("Invalid board", err)
	}

	var res *buildrun.Result
	if upload {
		res, err = f.Upload(cmd.Context(), code, buildPort)
	} else {
		res, err = f.Compile(cmd.Context(), code)
	}
	if err != nil {
		return compilerExit("Build failed", err)
	}

	if err := printBuildResult(cmd.OutOrStdout(), res, f.LastPort(), upload); err != nil {
		return err
	}
	if !res.Success {
		return exitError(exitBuildFailed, "Build reported failure", errBuildFailed)
	}
	observability.CLILogger.Debug("Build succeeded", zap.String("board", f.Board()), zap.Bool("upload", upload))
	return nil
}

func printBuildResult(w io.Writer, res *buildrun.Result, port string, upload bool) error {
	if buildJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if out := strings.TrimRight(res.Output, "\n"); out != "" {
		_, _ = fmt.Fprintln(w, out)
	}
	errorCount := 0
	for _, d := range res.Diagnostics {
		if d.Severity == "error" {
			errorCount++
		}
	}
	if len(res.Diagnostics) > 0 {
		_, _ = fmt.Fprintf(w, "errors=%d warnings=%d\n", errorCount, len(res.Diagnostics)-errorCount)
	}
	if res.Size != nil {
		_, _ = fmt.Fprintf(w, "program=%d data=%d\n", res.Size.Program, res.Size.Data)
	}
	_, _ = fmt.Fprintf(w, "success=%t\n", res.Success)
	if upload && port != "" {
		_, _ = fmt.Fprintf(w, "port=%s\n", port)
	}
	return nil
}
