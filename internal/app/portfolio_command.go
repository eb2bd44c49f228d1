package app

import (
	"fmt"

	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/model"
	"github.com/gustavo/lendctl/internal/portfolio"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newPortfolioCommand() *cobra.Command {
	var acct string
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show supplied collateral, debt, and health factor",
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := s.network()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, closeClient, err := s.runner.clients(ctx, s.settings, network, false)
			if err != nil {
				return err
			}
			defer closeClient()

			markdown, err := portfolio.NewReporter(client).BuildReport(ctx, network, acct)
			if err != nil {
				return clierr.New(clierr.CodeOf(err), fmt.Sprintf("Error getting portfolio details from Aave: %v", err))
			}

			report := model.PortfolioReport{
				Network:  network.Slug,
				Account:  acct,
				Markdown: markdown,
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), network.Slug, report, nil)
		},
	}
	cmd.Flags().StringVar(&acct, "account", "", "Account to report on (defaults to caller)")
	return cmd
}
