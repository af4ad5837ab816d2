package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cratemirror/internal/crate"
)

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Scan the Serato library and register its crates",
		Long: `Scans the Subcrates directory and registers every crate found.
Newly discovered crates start inactive; activate the ones to mirror
with "cratemirror add".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			paths, err := crate.List(cfg.SeratoDir)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no crates under %s", cfg.SeratoDir)
			}

			crates := make(map[string]string, len(paths))
			for _, p := range paths {
				crates[p] = crate.Name(p)
			}

			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			added, err := st.DiscoverMirrors(cmd.Context(), crates)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found %d crate(s), %d newly registered\n", len(paths), added)
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered crate mirrors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			mirrors, err := st.Mirrors(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if len(mirrors) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no mirrors registered (run discover first)")
				return nil
			}

			rows := make([][]string, 0, len(mirrors))
			for _, m := range mirrors {
				playlist := m.PlaylistID
				if playlist == "" {
					playlist = "-"
				}
				rows = append(rows, []string{
					m.Name,
					filepath.Base(m.CratePath),
					playlist,
					statusWord(m.Active, "active", "inactive"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Crate", "Playlist", "Status"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Show active mirrors only")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var folder string

	cmd := &cobra.Command{
		Use:   "add <crate>",
		Short: "Activate a crate for mirroring",
		Long: `Activates a crate so sync runs mirror it. The argument is the crate
name as shown by discover, or a path to a .crate file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			cratePath, err := resolveCrate(cfg.SeratoDir, args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = crate.Name(cratePath)
			}

			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ActivateMirror(cmd.Context(), cratePath, name, folder); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mirroring %s as %q\n", filepath.Base(cratePath), name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Playlist name (defaults to the crate name)")
	cmd.Flags().StringVar(&folder, "folder", "", "Collection folder for the playlist")
	return cmd
}

func newDeactivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <crate>",
		Short: "Stop mirroring a crate",
		Long: `Deactivates a mirror. The playlist and the stored mappings stay; a
later add picks up where sync left off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			cratePath, err := resolveCrate(cfg.SeratoDir, args[0])
			if err != nil {
				return err
			}

			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeactivateMirror(cmd.Context(), cratePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped mirroring %s\n", filepath.Base(cratePath))
			return nil
		},
	}
}

// resolveCrate accepts a crate name or a .crate path and returns the
// absolute crate path.
func resolveCrate(seratoDir, arg string) (string, error) {
	if strings.HasSuffix(arg, ".crate") {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return "", err
		}
		return abs, nil
	}

	paths, err := crate.List(seratoDir)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if strings.EqualFold(crate.Name(p), arg) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no crate named %q under %s", arg, seratoDir)
}
