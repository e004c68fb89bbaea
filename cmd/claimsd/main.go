package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/internal/config"
	"github.com/MarkoPoloResearchLab/unitclaims/internal/httpapi"
	"github.com/MarkoPoloResearchLab/unitclaims/internal/scheduler"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const schedulerStopTimeout = 30 * time.Second

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "claimsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "claimsd",
		Short:         "Unit claim coordinator for reservations, bookings and deposits",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(config.FlagListenAddr, "", "HTTP listen address (default :8080)")
	flags.String(config.FlagDatabaseURL, "", "postgres:// URL, sqlite:// URL or sqlite file path")
	flags.String(config.FlagRedisURL, "", "redis:// URL for cross-instance unit locks (optional)")
	flags.String(config.FlagAMQPURL, "", "amqp:// URL for claim event publishing (optional)")
	flags.String(config.FlagAMQPExchange, "", "topic exchange receiving claim events")
	flags.Duration(config.FlagHoldWindow, 0, "reservation hold window (e.g. 24h)")
	flags.Duration(config.FlagBookingGrace, 0, "grace period after a booking visit ends")
	flags.Int(config.FlagMaxExtensions, 1, "reservation extensions allowed per claim (0 disables)")
	flags.Int64(config.FlagDefaultCommissionBps, 200, "commission rate in basis points when neither unit nor project sets one (1..10000)")
	flags.String(config.FlagSweepSchedule, "", "cron schedule for the expiry sweeper (e.g. @every 1m)")
	flags.String(config.FlagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.Duration(config.FlagRequestTimeout, 0, "per-request timeout")

	cmd.AddCommand(newServeCommand(cfg), newSweepCommand(cfg), newUnitsCommand(cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newSweepCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue reservations and bookings once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, cfg, func(app *application) error {
				report, err := app.service.Sweep(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d claims\n", report.ExpiredCount)
				for _, failure := range report.Failures {
					fmt.Fprintf(cmd.OutOrStdout(), "failed %s %s: %s\n", failure.Kind, failure.ClaimCode, failure.Error)
				}
				return nil
			})
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range config.Flags() {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	*cfg = loaded
	return nil
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withRuntime(ctx, cfg, func(app *application) error {
		sweeps, err := scheduler.New(app.service, cfg.SweepSchedule, app.logger)
		if err != nil {
			return err
		}
		sweeps.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
			defer cancel()
			sweeps.Stop(stopCtx)
		}()

		router, err := httpapi.NewRouter(app.service, httpapi.RouterConfig{
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
		}, app.logger)
		if err != nil {
			return err
		}
		app.logger.Info("claimsd starting",
			zap.String("listen_addr", cfg.ListenAddr),
			zap.String("sweep_schedule", cfg.SweepSchedule),
			zap.Bool("redis_locks", cfg.RedisURL != ""),
			zap.Bool("amqp_events", cfg.AMQPURL != ""),
		)
		return httpapi.Serve(ctx, cfg.ListenAddr, router, app.logger)
	})
}
