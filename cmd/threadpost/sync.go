package main

import (
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/spf13/cobra"
)

func syncCommand(a *app) *cobra.Command {
	var opts service.SyncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import the contents and affiliates files into the content store",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sync, err := newContentStack(a.cfg, a.log("sync"))
			if err != nil {
				return err
			}
			report, err := sync.Sync(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(a.out, report)
		},
	}

	cmd.Flags().StringVar(&opts.AccountID, "account", "", "only refresh this account's rows")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "import even when the source is unchanged")
	return cmd
}
