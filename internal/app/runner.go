package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gustavo/lendctl/internal/cache"
	"github.com/gustavo/lendctl/internal/config"
	clierr "github.com/gustavo/lendctl/internal/errors"
	"github.com/gustavo/lendctl/internal/httpx"
	"github.com/gustavo/lendctl/internal/id"
	"github.com/gustavo/lendctl/internal/ledger"
	"github.com/gustavo/lendctl/internal/ledger/signer"
	"github.com/gustavo/lendctl/internal/model"
	"github.com/gustavo/lendctl/internal/out"
	"github.com/gustavo/lendctl/internal/policy"
	"github.com/gustavo/lendctl/internal/prices"
	"github.com/gustavo/lendctl/internal/registry"
	"github.com/gustavo/lendctl/internal/schema"
	"github.com/gustavo/lendctl/internal/version"
	"github.com/spf13/cobra"
)

// clientFactory abstracts RPC dialing so command tests can substitute a
// scripted ledger client. needSigner is true for mutating operations.
type clientFactory func(ctx context.Context, settings config.Settings, network id.Network, needSigner bool) (ledger.Client, func(), error)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	clients   clientFactory
	estimator prices.Estimator
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:  stdout,
		stderr:  stderr,
		now:     time.Now,
		clients: dialClient,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	rates       *cache.RateStore
	root        *cobra.Command
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.rates != nil {
		_ = state.rates.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Aave V3 lending operations CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			if cmd.Name() != "schema" {
				if err := policy.CheckCommandAllowed(settings.EnableCommands, s.lastCommand); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output the full JSON envelope")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text (default)")
	cmd.PersistentFlags().StringVar(&s.flags.Network, "network", "", "Target network (slug, CAIP-2, or chain id)")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC endpoint override")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "HTTP request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per HTTP request")
	cmd.PersistentFlags().StringVar(&s.flags.ReceiptTimeout, "receipt-timeout", "", "Transaction confirmation timeout")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the price-rate cache")
	cmd.PersistentFlags().BoolVar(&s.flags.NoLivePrices, "no-live-prices", false, "Use the static USD/ETH rate instead of a live feed")
	cmd.PersistentFlags().Float64Var(&s.flags.StaticRate, "eth-usd-rate", 0, "Static USD/ETH rate for borrow estimates")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringSliceVar(&s.flags.EnableCommands, "enable-commands", nil, "Restrict execution to the listed commands")
	cmd.PersistentFlags().StringVar(&s.flags.KeySource, "key-source", "", "Signing key source: auto, env, file, or keystore")
	cmd.PersistentFlags().StringVar(&s.flags.PrivateKey, "private-key", "", "Hex private key (overrides other key sources)")

	cmd.AddCommand(s.newSupplyCommand())
	cmd.AddCommand(s.newWithdrawCommand())
	cmd.AddCommand(s.newBorrowCommand())
	cmd.AddCommand(s.newRepayCommand())
	cmd.AddCommand(s.newPortfolioCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	s.root = cmd
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command]",
		Short: "Describe the CLI surface as structured data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			doc, err := schema.Describe(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "describe command", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.settings.Network, doc, nil)
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) network() (id.Network, error) {
	return id.ParseNetwork(s.settings.Network)
}

// priceEstimator builds the borrow capacity estimator from settings,
// opening the rate cache lazily on first use.
func (s *runtimeState) priceEstimator() prices.Estimator {
	if s.runner.estimator != nil {
		return s.runner.estimator
	}
	if !s.settings.LivePrices {
		return prices.NewStatic(s.settings.StaticETHUSDRate)
	}
	if s.settings.CacheEnabled && s.rates == nil {
		store, err := cache.Open(s.settings.RateCachePath, s.settings.RateCacheLockPath)
		if err == nil {
			s.rates = store
		}
	}
	return prices.NewLlama(httpx.New(s.settings.Timeout, s.settings.Retries), s.rates)
}

func dialClient(ctx context.Context, settings config.Settings, network id.Network, needSigner bool) (ledger.Client, func(), error) {
	rpcURL, err := registry.ResolveRPCURL(settings.RPCURL, network.EVMChainID)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}

	var txSigner signer.Signer
	if needSigner {
		localSigner, err := signer.NewLocal(settings.KeySource, signer.Credentials{
			PrivateKeyHex:        settings.PrivateKey,
			PrivateKeyFile:       settings.PrivateKeyFile,
			KeystorePath:         settings.KeystorePath,
			KeystorePassword:     settings.KeystorePassword,
			KeystorePasswordFile: settings.KeystorePasswordFile,
		})
		if err != nil {
			return nil, nil, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
		}
		txSigner = localSigner
	}

	opts := ledger.Options{
		PollInterval:   settings.PollInterval,
		ReceiptTimeout: settings.ReceiptTimeout,
		GasMultiplier:  settings.GasMultiplier,
	}
	if settings.MaxFeeGwei > 0 {
		opts.MaxFeeGwei = strconv.FormatFloat(settings.MaxFeeGwei, 'f', -1, 64)
	}
	if settings.MaxPriorityFeeGwei > 0 {
		opts.MaxPriorityFeeGwei = strconv.FormatFloat(settings.MaxPriorityFeeGwei, 'f', -1, 64)
	}

	client, err := ledger.Dial(ctx, rpcURL, txSigner, opts)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

func (s *runtimeState) emitSuccess(commandPath, network string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   network,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "plain"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   s.settings.Network,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodePrecondition:
		return "precondition_failed"
	case clierr.CodeApproval:
		return "approval_failed"
	case clierr.CodeReverted:
		return "transaction_reverted"
	case clierr.CodeAccountQuery:
		return "account_query_failed"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeBlocked:
		return "command_blocked"
	default:
		return "internal_error"
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
