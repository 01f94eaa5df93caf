package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "recompute index contents from the entry table and report any divergence",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			defer log.Sync()

			b, closeFn, err := openBackend(ctx, cfgFile, log)
			if err != nil {
				return err
			}
			defer closeFn()

			errs, err := b.Verify(ctx)
			if err != nil {
				return err
			}
			if len(errs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ok: no consistency errors")
				return nil
			}
			for _, e := range errs {
				fmt.Fprintln(cmd.OutOrStdout(), e.Error())
			}
			return errs
		},
	}
}

func newServerIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server-id",
		Short: "print the store's server id, minting one on first access",
	}
	cmd.Flags().Bool("reset", false, "mint a fresh server id, discarding the current one")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := newLogger()
		defer log.Sync()

		b, closeFn, err := openBackend(ctx, cfgFile, log)
		if err != nil {
			return err
		}
		defer closeFn()

		reset, _ := cmd.Flags().GetBool("reset")
		var sid uint32
		if reset {
			sid, err = b.ResetServerID(ctx)
		} else {
			sid, err = b.ServerID(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", sid)
		return nil
	}
	return cmd
}
