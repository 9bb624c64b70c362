package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run a single reminder pass and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.scheduler.Tick(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d sent=%d skipped=%d failed=%d\n", rep.Candidates, rep.Sent, rep.Skipped, rep.Failed)
		return nil
	},
}
