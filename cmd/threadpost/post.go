package main

import (
	"context"
	"errors"

	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/spf13/cobra"
)

type postReport struct {
	Total       int                    `json:"total"`
	Succeeded   int                    `json:"succeeded"`
	Partial     int                    `json:"partial"`
	Failed      int                    `json:"failed"`
	Skipped     int                    `json:"skipped"`
	SuccessRate float64                `json:"success_rate"`
	Accounts    []models.AccountResult `json:"accounts"`
}

func newPostReport(s service.Summary) postReport {
	return postReport{
		Total:       s.Total,
		Succeeded:   s.Succeeded,
		Partial:     s.Partial,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		SuccessRate: s.SuccessRate(),
		Accounts:    s.AccountResults(),
	}
}

func postCommand(a *app) *cobra.Command {
	var (
		accountID string
		all       bool
		testMode  bool
	)

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post once for one account or for every active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (accountID == "") == !all {
				return errors.New("exactly one of --account or --all is required")
			}

			ctx := cmd.Context()
			eng, err := newEngine(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}

			opts := service.RunOptions{Test: testMode}
			var summary service.Summary
			err = eng.runner.RunManual(ctx, func(ctx context.Context) error {
				if all {
					summary, err = eng.orch.RunAll(ctx, opts)
					return err
				}
				// a failed attempt is still reported in the summary
				rec, _ := eng.orch.RunAccount(ctx, accountID, opts)
				summary.Add(rec)
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(a.out, newPostReport(summary))
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id to post for")
	cmd.Flags().BoolVar(&all, "all", false, "post for every active account")
	cmd.Flags().BoolVar(&testMode, "test", false, "select and classify only, without posting")
	return cmd
}
