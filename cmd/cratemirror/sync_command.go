package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cratemirror/internal/shutdown"
	"cratemirror/internal/syncer"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var maxBitrate int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize every active mirror with its playlist",
		Long: `Reads each active crate, resolves its tracks against the TIDAL catalog
and applies the minimal playlist edits. Matches persist, so unchanged
tracks never hit the search API twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := ctx.logger()
			ctx.enableFileLog()

			handler := shutdown.New()
			handler.Listen()
			runCtx := handler.Context()

			lock, err := syncer.RunLock(cfg.DatabasePath)
			if err != nil {
				return err
			}
			handler.AddCleanup(func() { lock.Unlock() })
			defer lock.Unlock()

			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			client, err := ctx.tidalClient(runCtx)
			if err != nil {
				return err
			}

			s := &syncer.Syncer{
				Store:   st,
				Remote:  client,
				Catalog: client,
				Matcher: cfg.Match,
				Folder:  cfg.PlaylistFolder,
				Log:     log,
			}
			report, err := s.Run(runCtx, syncer.Options{DryRun: dryRun, MaxBitrate: maxBitrate})
			if err != nil {
				return err
			}

			printSyncReport(cmd, report)
			if failed := report.Failed(); failed > 0 {
				return fmt.Errorf("%d mirror(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report the plan without applying it")
	cmd.Flags().IntVar(&maxBitrate, "max-bitrate", 0, "Mirror only tracks at or below this kbps (0 = all)")
	return cmd
}

func printSyncReport(cmd *cobra.Command, report *syncer.Report) {
	out := cmd.OutOrStdout()

	rows := make([][]string, 0, len(report.Mirrors))
	for _, m := range report.Mirrors {
		status := statusWord(m.Err == nil, "ok", "failed")
		rows = append(rows, []string{
			m.Name,
			strconv.Itoa(m.Tracks),
			strconv.Itoa(m.Matched),
			strconv.Itoa(len(m.Unmatched)),
			fmt.Sprintf("+%d -%d ~%d", m.Adds, m.Removes, m.Moves),
			status,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Mirror", "Tracks", "Matched", "Unmatched", "Plan", "Status"},
		rows, 1, 2, 3))

	for _, m := range report.Mirrors {
		for _, u := range m.Unmatched {
			fmt.Fprintf(out, "  unmatched: %s - %s (%s)\n", u.Artist, u.Title, u.Reason)
		}
		if m.Err != nil {
			fmt.Fprintf(out, "  %s: %v\n", m.Name, m.Err)
		}
	}
	if report.DryRun {
		fmt.Fprintln(out, "dry run: nothing was changed")
	}
}
