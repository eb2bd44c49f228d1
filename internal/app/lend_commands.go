package app

import (
	"github.com/gustavo/lendctl/internal/account"
	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/lend"
	"github.com/gustavo/lendctl/internal/model"
	"github.com/spf13/cobra"
)

type lendFlags struct {
	asset        string
	amount       string
	onBehalfOf   string
	to           string
	rateMode     int64
	referralCode uint16
}

func (s *runtimeState) newSupplyCommand() *cobra.Command {
	var flags lendFlags
	cmd := &cobra.Command{
		Use:   "supply",
		Short: "Supply an asset to the pool as collateral",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runLendOperation(cmd, lend.KindSupply, flags)
		},
	}
	cmd.Flags().StringVar(&flags.asset, "asset", "", "Asset id (weth, usdc, ...) or token address")
	cmd.Flags().StringVar(&flags.amount, "amount", "", "Amount in human-readable units")
	cmd.Flags().StringVar(&flags.onBehalfOf, "on-behalf-of", "", "Address to supply on behalf of (defaults to caller)")
	cmd.Flags().Uint16Var(&flags.referralCode, "referral-code", 0, "Protocol referral code")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newWithdrawCommand() *cobra.Command {
	var flags lendFlags
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw a supplied asset from the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runLendOperation(cmd, lend.KindWithdraw, flags)
		},
	}
	cmd.Flags().StringVar(&flags.asset, "asset", "", "Asset id (weth, usdc, ...) or token address")
	cmd.Flags().StringVar(&flags.amount, "amount", "", "Amount in human-readable units, or 'max'")
	cmd.Flags().StringVar(&flags.to, "to", "", "Address to withdraw to (defaults to caller)")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newBorrowCommand() *cobra.Command {
	var flags lendFlags
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Borrow an asset against supplied collateral",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runLendOperation(cmd, lend.KindBorrow, flags)
		},
	}
	cmd.Flags().StringVar(&flags.asset, "asset", "", "Asset id (weth, usdc, ...) or token address")
	cmd.Flags().StringVar(&flags.amount, "amount", "", "Amount in human-readable units")
	cmd.Flags().Int64Var(&flags.rateMode, "interest-rate-mode", 0, "Interest rate mode: 1 stable, 2 variable (default)")
	cmd.Flags().StringVar(&flags.onBehalfOf, "on-behalf-of", "", "Address to borrow on behalf of (defaults to caller)")
	cmd.Flags().Uint16Var(&flags.referralCode, "referral-code", 0, "Protocol referral code")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newRepayCommand() *cobra.Command {
	var flags lendFlags
	cmd := &cobra.Command{
		Use:   "repay",
		Short: "Repay borrowed debt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runLendOperation(cmd, lend.KindRepay, flags)
		},
	}
	cmd.Flags().StringVar(&flags.asset, "asset", "", "Asset id (weth, usdc, ...) or token address")
	cmd.Flags().StringVar(&flags.amount, "amount", "", "Amount in human-readable units, or 'max'")
	cmd.Flags().Int64Var(&flags.rateMode, "interest-rate-mode", 0, "Interest rate mode: 1 stable, 2 variable (default)")
	cmd.Flags().StringVar(&flags.onBehalfOf, "on-behalf-of", "", "Address whose debt is repaid (defaults to caller)")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) runLendOperation(cmd *cobra.Command, kind lend.Kind, flags lendFlags) error {
	network, err := s.network()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	client, closeClient, err := s.runner.clients(ctx, s.settings, network, true)
	if err != nil {
		return err
	}
	defer closeClient()

	orch := lend.New(client, s.priceEstimator())
	result := orch.Do(ctx, lend.Request{
		Kind:             kind,
		Network:          network,
		Asset:            flags.asset,
		Amount:           flags.amount,
		OnBehalfOf:       flags.onBehalfOf,
		To:               flags.to,
		InterestRateMode: flags.rateMode,
		ReferralCode:     flags.referralCode,
	})
	if result.Err != nil {
		return clierr.New(clierr.CodeOf(result.Err), result.Message)
	}

	outcome := model.OperationOutcome{
		Operation:          string(kind),
		Network:            network.Slug,
		Asset:              flags.asset,
		Amount:             flags.amount,
		TxHash:             result.TxHash,
		HealthFactorBefore: account.FormatFactor(result.Before.HealthFactor),
		HealthFactorAfter:  account.FormatFactor(result.After.HealthFactor),
		Message:            result.Message,
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), network.Slug, outcome, result.Warnings)
}
