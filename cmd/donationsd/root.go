package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-donations/adapters/gocommand"
	"github.com/goliatone/go-donations/api"
	donationcommand "github.com/goliatone/go-donations/command"
	"github.com/goliatone/go-donations/core"
	donationquery "github.com/goliatone/go-donations/query"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// buildRuntimeFunc is swapped in tests to avoid dialing real wallets.
var buildRuntimeFunc = buildRuntime

type app struct {
	config AppConfig
	logger *logrus.Logger
}

func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "donationsd",
		Short:         "Open Payments donation orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.config = cfg
			a.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	registerConfigFlags(root)
	root.AddCommand(
		newServeCommand(a),
		newStartCommand(a),
		newCompleteCommand(a),
		newPendingCommand(a),
		newPurgeCommand(a),
		newConfigCommand(a),
	)
	return root
}

func registerConfigFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	defaults := DefaultAppConfig()
	flags.String(configFileFlag, "", "path to a yaml config file")
	flags.String("log.level", defaults.Log.Level, "log level")
	flags.String("log.format", defaults.Log.Format, "log format: text or json")
	flags.String("http.address", defaults.HTTP.Address, "address the API listens on")
	flags.String("store.driver", defaults.Store.Driver, "pending grant store: memory, postgres, sqlite or redis")
	flags.String("store.dsn", "", "database DSN for the postgres and sqlite stores")
	flags.String("store.redis_addr", defaults.Store.RedisAddr, "redis address for the redis store")
	flags.String("openpayments.client_wallet_address", "", "wallet address this client identifies as")
	flags.String("donations.default_receiver_wallet", "", "wallet that receives donations when none is given")
	flags.String("donations.correlation_key_mode", defaults.Donations.CorrelationKeyMode, "correlation key mode: wallet or flow")
	flags.String("donations.interact_finish_uri", "", "URI the wallet redirects to after approval")
}

func (a *app) runtime(ctx context.Context) (*runtime, error) {
	return buildRuntimeFunc(ctx, a.config, a.logger)
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the donation API and purge expired pending grants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := []api.Option{
				api.WithLogger(rt.logger),
				api.WithHealthCheck(rt.health),
			}
			if rt.config.Metrics.Enabled {
				opts = append(opts, api.WithMetricsHandler(
					promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry}),
				))
			}
			server, err := api.NewServer(rt.service, rt.config.HTTP, opts...)
			if err != nil {
				return err
			}
			purges, err := rt.purgeLoops(ctx)
			if err != nil {
				return err
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error { return server.Start(groupCtx) })
			for _, run := range purges {
				group.Go(func() error { return run(groupCtx) })
			}
			return group.Wait()
		},
	}
}

func newStartCommand(a *app) *cobra.Command {
	var req core.StartDonationRequest
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a donation and print the approval redirect",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context) (any, error) {
				collector := gocmd.NewResult[core.StartDonationResult]()
				err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), donationcommand.StartDonationMessage{Request: req})
				if err != nil {
					return nil, err
				}
				result, _ := collector.Load()
				return result, nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.SenderWallet, "sender", "", "sender wallet address")
	flags.StringVar(&req.ReceiverWallet, "receiver", "", "receiver wallet address")
	flags.StringVar(&req.Amount, "amount", "", "amount in minor units of the receiving asset")
	flags.StringVar(&req.DisplayAmount, "display-amount", "", "decimal amount such as 10.00")
	flags.StringVar(&req.CorrelationKey, "key", "", "explicit correlation key")
	return cmd
}

func newCompleteCommand(a *app) *cobra.Command {
	var req core.CompleteDonationRequest
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete an approved donation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context) (any, error) {
				collector := gocmd.NewResult[core.CompleteDonationResult]()
				err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), donationcommand.CompleteDonationMessage{Request: req})
				if err != nil {
					return nil, err
				}
				result, _ := collector.Load()
				return result, nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.CorrelationKey, "key", "", "correlation key returned by start")
	flags.StringVar(&req.InteractRef, "interact-ref", "", "interact_ref from the finish redirect")
	flags.StringVar(&req.ExpectedQuoteID, "quote", "", "quote id the client expects to pay")
	return cmd
}

func newPendingCommand(a *app) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show a pending donation without consuming it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context) (any, error) {
				return gocommand.Query[donationquery.LookupPendingDonationMessage, core.PendingDonation](ctx, donationquery.LookupPendingDonationMessage{
					CorrelationKey: key,
				})
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "correlation key")
	return cmd
}

func newPurgeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Purge expired pending grants once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context) (any, error) {
				return busPurger{}.PurgeExpiredPendingGrants(ctx)
			})
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), a.config.Redacted())
		},
	}
}

func (a *app) withRuntime(cmd *cobra.Command, run func(ctx context.Context) (any, error)) error {
	ctx := cmd.Context()
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	out, err := run(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
