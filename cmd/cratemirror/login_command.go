package main

import (
	"github.com/spf13/cobra"

	"cratemirror/internal/remote/tidal"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with TIDAL via the device flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return tidal.Login(cmd.Context(), cfg.TidalClientID, ctx.logger())
		},
	}
}
