package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "write a pretty-printed snapshot of every entry to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			defer log.Sync()

			b, closeFn, err := openBackend(ctx, cfgFile, log)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := b.Backup(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", args[0])
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "purge the entry table and reload it from a backup file, then reindex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			defer log.Sync()

			b, closeFn, err := openBackend(ctx, cfgFile, log)
			if err != nil {
				return err
			}
			defer closeFn()

			return b.Restore(ctx, args[0])
		},
	}
}
