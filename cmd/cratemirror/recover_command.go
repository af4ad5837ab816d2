package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cratemirror/internal/crate"
	"cratemirror/internal/downloader"
	"cratemirror/internal/probe"
	"cratemirror/internal/progress"
	"cratemirror/internal/recovery"
	"cratemirror/internal/remote"
	"cratemirror/internal/shutdown"
	"cratemirror/internal/syncer"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var maxBitrate int
	var qualityFlag string
	var downloadDir string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Re-download mapped tracks that are missing or low-bitrate",
		Long: `Scans every stored mapping and re-downloads tracks whose local file is
gone, or measures below --max-bitrate. Recovered files keep their crate
position; DJ tags (key, BPM, cues) are cloned from the replaced file
when it still exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := ctx.logger()
			ctx.enableFileLog()

			if !cmd.Flags().Changed("max-bitrate") {
				maxBitrate = cfg.MaxBitrate
			}
			if qualityFlag == "" {
				qualityFlag = cfg.Quality
			}
			if downloadDir == "" {
				downloadDir = cfg.DownloadDir
			}
			quality, err := remote.ParseQuality(qualityFlag)
			if err != nil {
				return err
			}

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

			dl := downloader.New(cfg.DownloaderBinary, downloadDir, log)
			if !dryRun {
				if err := dl.Check(); err != nil {
					return err
				}
			}

			planner := recovery.NewPlanner(st, recovery.FS{}, log)
			job, err := planner.Plan(runCtx, maxBitrate, quality)
			if err != nil {
				return err
			}
			if len(job.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to recover")
				return nil
			}

			runner := &recovery.Runner{
				Store:      st,
				Probe:      recovery.FS{},
				Downloader: dl,
				Log:        log,
				CloneTags:  probe.CloneDJTags,
				RewriteCrates: func(oldPath, newPath string) ([]string, error) {
					return crate.ReplacePathAll(cfg.SeratoDir, oldPath, newPath)
				},
			}

			var bar *progress.Bar
			if !dryRun {
				bar = progress.New(len(job.Items))
				log.SetProgressBar(true)
				runner.OnItem = func(recovery.ItemResult) { bar.Increment() }
			}
			report, err := runner.Run(runCtx, job, dryRun)
			if bar != nil {
				bar.Finish()
				log.SetProgressBar(false)
			}
			if err != nil {
				return err
			}

			printRecoveryReport(cmd, report)
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d track(s) failed to recover", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report the job without downloading")
	cmd.Flags().IntVar(&maxBitrate, "max-bitrate", 0, "Also recover files measuring below this kbps")
	cmd.Flags().StringVar(&qualityFlag, "quality", "", "Download quality tier (defaults to the configured one)")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "Working directory for the downloader (defaults to the configured one)")
	return cmd
}

func printRecoveryReport(cmd *cobra.Command, report *recovery.Report) {
	out := cmd.OutOrStdout()

	if report.DryRun {
		rows := make([][]string, 0, len(report.Planned))
		for _, item := range report.Planned {
			rows = append(rows, []string{item.LocalPath, item.RemoteID, item.Reason})
		}
		fmt.Fprintln(out, renderTable([]string{"File", "Remote ID", "Reason"}, rows))
		fmt.Fprintf(out, "dry run: %d track(s) would be recovered\n", len(report.Planned))
		return
	}

	for _, r := range report.Recovered {
		fmt.Fprintf(out, "%s %s\n", statusWord(true, "recovered", ""), r.FinalPath)
	}
	for _, r := range report.Failed {
		fmt.Fprintf(out, "%s %s: %v\n", statusWord(false, "", "failed"), r.LocalPath, r.Err)
	}
	fmt.Fprintf(out, "%d recovered, %d failed\n", len(report.Recovered), len(report.Failed))
}
