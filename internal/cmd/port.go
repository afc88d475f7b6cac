package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/pkg/compiler"
)

var portBoard string

var portCmd = &cobra.Command{
	Use:   "port",
	Short: "Find the serial port a board is attached to",
	Long: `Probe every candidate serial port concurrently and print the first one
where the board answers.

Examples:
  goflash port --board uno`,
	Args: cobra.NoArgs,
	RunE: runPort,
}

func init() {
	rootCmd.AddCommand(portCmd)
	portCmd.Flags().StringVarP(&portBoard, "board", "b", compiler.DefaultBoard, "Board id (platformio.ini environment)")
}

func runPort(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	a, err := newAgent(cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize agent", err)
	}

	f, err := a.registry.Get(portBoard)
	if err != nil {
		return compilerExit("Invalid board", err)
	}
	port, err := f.Port(cmd.Context())
	if err != nil {
		return compilerExit("Port search failed", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), port)
	return nil
}
