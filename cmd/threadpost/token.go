package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/threadpost/pkg/utils"
	"github.com/spf13/cobra"
)

func tokenCommand(a *app) *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.SecretKey == "" {
				return errors.New("THREADPOST_SECRET_KEY is not set")
			}
			token, err := utils.GenerateToken(a.cfg.SecretKey, operator, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "cli", "operator name stored in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
