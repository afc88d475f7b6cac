package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/goflash/pkg/boardconfig"
)

var boardsJSON bool

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List the boards defined by the project",
	Long: `List every [env:<board>] section of the project's platformio.ini together
with the mcu and upload speed resolved from the board catalog.

Boards whose catalog entry is missing are listed with their error.`,
	Args: cobra.NoArgs,
	RunE: runBoards,
}

type boardRow struct {
	Board  string                   `json:"board"`
	Config *boardconfig.BoardConfig `json:"config,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(boardsCmd)
	boardsCmd.Flags().BoolVar(&boardsJSON, "json", false, "Output as JSON")
}

func runBoards(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	catalog, err := newCatalog(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid board catalog", err)
	}
	resolver := boardconfig.NewResolver(cfg.Project.Dir, catalog)

	ids, err := resolver.Boards()
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot read project configuration", err)
	}

	rows := make([]boardRow, 0, len(ids))
	for _, id := range ids {
		bc, err := resolver.Resolve(id)
		if err != nil {
			rows = append(rows, boardRow{Board: id, Error: err.Error()})
			continue
		}
		rows = append(rows, boardRow{Board: id, Config: bc})
	}

	out := cmd.OutOrStdout()
	if boardsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(out, "No boards found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "BOARD\tTOKEN\tMCU\tSPEED")
	for _, r := range rows {
		if r.Config == nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t(%s)\n", r.Board, r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Board, r.Config.BoardToken, r.Config.MCU, r.Config.UploadBaudRate)
	}
	return nil
}
