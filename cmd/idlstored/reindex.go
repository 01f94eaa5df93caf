package main

import (
	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "drop and rebuild every declared index table from the entry table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			defer log.Sync()

			b, closeFn, err := openBackend(ctx, cfgFile, log)
			if err != nil {
				return err
			}
			defer closeFn()

			return b.Reindex(ctx)
		},
	}
}
