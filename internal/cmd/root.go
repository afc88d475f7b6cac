// Package cmd implements the goflash command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/goflash/internal/config"
	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/internal/server/handlers"
)

// AppIdentity names the binary, its environment prefix and config name.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity = &AppIdentity{
	BinaryName: "goflash",
	EnvPrefix:  config.EnvPrefix,
	ConfigName: config.AppName,
}

// GetAppIdentity returns the application identity.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo is called from main with values injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "goflash",
	Short: "Compile and flash microcontroller code on demand",
	Long: `goflash is a local agent that compiles microcontroller sketches with
PlatformIO inside isolated workspaces, finds the serial port a board is
attached to, and flashes it with avrdude.

Run 'goflash serve' to expose the agent over HTTP, or use the compile,
upload, flash and port commands directly.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(appIdentity.BinaryName, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $GOFLASH_CONFIG or <user config dir>/goflash/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	setDefaults()
}

// setDefaults registers configuration defaults on the global viper instance.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(normalizeLegacyArgs(os.Args[1:]))
	return rootCmd.ExecuteContext(ctx)
}

// normalizeLegacyArgs rewrites the build child contract
//
//	--board X --workSpace P [--upload --port Q] parallelCompile
//
// into the parallel-compile command.
func normalizeLegacyArgs(args []string) []string {
	idx := -1
	for i, a := range args {
		if a == legacyParallelCompile {
			idx = i
			break
		}
	}
	if idx < 0 {
		return args
	}
	out := make([]string, 0, len(args))
	out = append(out, parallelCompileCmd.Name())
	out = append(out, args[:idx]...)
	out = append(out, args[idx+1:]...)
	return out
}

// loadConfig loads configuration honouring --config.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return config.LoadFile(ctx, strings.TrimSpace(cfgFile), overrides...)
}

// ExitCodeError carries the process exit code of a failed command.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code for err: 0 for nil, the carried code for
// an exitError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitCodeError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// ExitWithCode logs message and err, then terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	_ = logger.Sync()
	os.Exit(code)
}
