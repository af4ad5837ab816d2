package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cratemirror/internal/importer"
	"cratemirror/internal/shutdown"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var name string
	var folder string

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Create a playlist from a CSV track list",
		Long: `Reads a CSV with title and artist columns, resolves each row against
the TIDAL catalog and creates a playlist holding the matches in row
order. Rows without a confident match are reported, not guessed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := ctx.logger()
			ctx.enableFileLog()

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer file.Close()

			rows, err := importer.ParseRows(file)
			if err != nil {
				return err
			}

			handler := shutdown.New()
			handler.Listen()
			runCtx := handler.Context()

			client, err := ctx.tidalClient(runCtx)
			if err != nil {
				return err
			}

			if name == "" {
				base := filepath.Base(args[0])
				name = strings.TrimSuffix(base, filepath.Ext(base))
			}
			if folder == "" {
				folder = cfg.PlaylistFolder
			}

			imp := &importer.Importer{
				Catalog:   client,
				Playlists: client,
				Matcher:   cfg.Match,
				Log:       log,
			}
			report, err := imp.Run(runCtx, rows, name, folder)
			if report != nil {
				printImportReport(cmd, name, report)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Playlist name (default: the file name)")
	cmd.Flags().StringVar(&folder, "folder", "", "Playlist folder ID (default: the configured folder)")
	return cmd
}

func printImportReport(cmd *cobra.Command, name string, report *importer.Report) {
	out := cmd.OutOrStdout()

	if len(report.Unresolved) > 0 {
		rows := make([][]string, 0, len(report.Unresolved))
		for _, u := range report.Unresolved {
			rows = append(rows, []string{strconv.Itoa(u.Line), u.Artist, u.Title, u.Reason})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Line", "Artist", "Title", "Reason"},
			rows, 0))
	}

	status := statusWord(report.PlaylistID != "", "created", "not created")
	fmt.Fprintf(out, "%s: %s (%d of %d rows matched, %d duplicate(s), %d unresolved)\n",
		name, status, report.Matched, report.Rows, report.Duplicates, len(report.Unresolved))
}
