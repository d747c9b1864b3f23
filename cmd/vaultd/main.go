package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/cmd/flags"
	"github.com/ruteri/wallet-recovery-vault/httpserver"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/notify"
	"github.com/ruteri/wallet-recovery-vault/recovery"
	"github.com/ruteri/wallet-recovery-vault/storage"
	"github.com/ruteri/wallet-recovery-vault/vault"
	"github.com/urfave/cli/v2"
)

var VaultServiceLogFlag = flags.LogServiceFlagFn("wallet-vault")

func main() {
	app := &cli.App{
		Name:  "vaultd",
		Usage: "Serve the wallet vault and run the recovery supervisor",
		Flags: append([]cli.Flag{
			VaultServiceLogFlag,
			flags.ListenAddrFlag,
			flags.RateLimitFlag,
			flags.RateBurstFlag,
			flags.StoreFlag,
			flags.SealingKeyFlag,
			flags.HardwareProtectionFlag,
			flags.SupervisorScheduleFlag,
			flags.NotifyTimeoutFlag,
			flags.SESFromFlag,
			flags.SESRegionFlag,
			flags.SESConfigurationSetFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			sealingKey, err := flags.SealingKey(cCtx)
			if err != nil {
				logger.Error("Invalid sealing key", "err", err)
				return err
			}

			storeURIs := cCtx.StringSlice(flags.StoreFlag.Name)
			store, err := storage.NewStoreFactory(logger).CreateMultiStore(storeURIs)
			if err != nil {
				logger.Error("Failed to create store", "err", err)
				return err
			}
			if closer, ok := store.(io.Closer); ok {
				defer closer.Close()
			}
			logger.Info("Store ready", "name", store.Name(), "backends", len(storeURIs))

			clk := clock.New()

			vcfg := vault.DefaultConfig()
			vcfg.HardwareProtection = cCtx.Bool(flags.HardwareProtectionFlag.Name)
			secureVault := vault.New(store, vcfg, clk, logger)

			engine, err := recovery.New(store, nil, nil, recovery.Config{
				SealingKey: sealingKey,
				Throttle:   recovery.DefaultThrottleConfig(),
			}, clk, logger)
			if err != nil {
				logger.Error("Failed to create recovery engine", "err", err)
				return err
			}

			notifier, err := setupNotifier(cCtx, logger)
			if err != nil {
				logger.Error("Failed to create notifier", "err", err)
				return err
			}

			supervisorCfg := recovery.DefaultSupervisorConfig()
			supervisorCfg.Schedule = cCtx.String(flags.SupervisorScheduleFlag.Name)
			supervisorCfg.NotifyTimeout = cCtx.Duration(flags.NotifyTimeoutFlag.Name)
			supervisor, err := recovery.NewSupervisor(engine, notifier, supervisorCfg, logger)
			if err != nil {
				logger.Error("Failed to create supervisor", "err", err)
				return err
			}

			serverCfg := flags.ConfigureServer(cCtx, logger)
			serverCfg.Store = store
			server, err := httpserver.New(serverCfg, httpserver.NewHandler(secureVault, engine, supervisor, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := supervisor.Start(ctx); err != nil {
				logger.Error("Failed to start supervisor", "err", err)
				return err
			}
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			supervisor.Stop()
			server.Shutdown()
			secureVault.Lock(ctx)
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setupNotifier always logs notices and additionally emails guardians when
// an SES sender is configured.
func setupNotifier(cCtx *cli.Context, logger *slog.Logger) (interfaces.GuardianNotifier, error) {
	logNotifier := notify.NewLogNotifier(logger)

	from := cCtx.String(flags.SESFromFlag.Name)
	if from == "" {
		return logNotifier, nil
	}

	ses, err := notify.NewSESNotifier(notify.SESConfig{
		From:             from,
		Region:           cCtx.String(flags.SESRegionFlag.Name),
		ConfigurationSet: cCtx.String(flags.SESConfigurationSetFlag.Name),
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Guardian emails enabled", "region", cCtx.String(flags.SESRegionFlag.Name))
	return notify.Multi{logNotifier, ses}, nil
}
