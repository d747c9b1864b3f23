package flags

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/wallet-recovery-vault/common"
	"github.com/ruteri/wallet-recovery-vault/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		RateLimit:                cCtx.Float64(RateLimitFlag.Name),
		RateBurst:                cCtx.Int(RateBurstFlag.Name),
	}
}

// SealingKey decodes the hex sealing key flag.
func SealingKey(cCtx *cli.Context) ([]byte, error) {
	key, err := hex.DecodeString(cCtx.String(SealingKeyFlag.Name))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("invalid %s: must be 64 hex chars (32 bytes)", SealingKeyFlag.Name)
	}
	return key, nil
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"VAULT_LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"VAULT_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics, empty to disable",
	EnvVars: []string{"VAULT_METRICS_ADDR"},
}
var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for the control API",
	EnvVars: []string{"VAULT_LISTEN_ADDR"},
}
var RateLimitFlag = &cli.Float64Flag{
	Name:  "rate-limit",
	Value: 0,
	Usage: "requests per second allowed per client IP, 0 disables",
}
var RateBurstFlag = &cli.IntFlag{
	Name:  "rate-burst",
	Value: 10,
	Usage: "burst size for the per client rate limit",
}

var StoreFlag = &cli.StringSliceFlag{
	Name:    "store",
	Value:   cli.NewStringSlice("bolt:///var/lib/wallet-vault/vault.db"),
	Usage:   "store URI, repeat to mirror across backends (memory://, file://, bolt://, s3://, vault://)",
	EnvVars: []string{"VAULT_STORES"},
}
var SealingKeyFlag = &cli.StringFlag{
	Name:     "sealing-key",
	Required: true,
	Usage:    "hex-encoded 32-byte key sealing timelock and dead-man secrets",
	EnvVars:  []string{"VAULT_SEALING_KEY"},
}
var HardwareProtectionFlag = &cli.BoolFlag{
	Name:  "hardware-protection",
	Value: false,
	Usage: "report the vault as hardware protected",
}

var SupervisorScheduleFlag = &cli.StringFlag{
	Name:    "supervisor-schedule",
	Value:   "@daily",
	Usage:   "cron spec or Go duration for recovery sweeps",
	EnvVars: []string{"VAULT_SUPERVISOR_SCHEDULE"},
}
var NotifyTimeoutFlag = &cli.DurationFlag{
	Name:  "notify-timeout",
	Value: 30 * time.Second,
	Usage: "timeout for each guardian notification",
}
var SESFromFlag = &cli.StringFlag{
	Name:    "ses-from",
	Usage:   "sender address for guardian emails; SES is disabled when empty",
	EnvVars: []string{"VAULT_SES_FROM"},
}
var SESRegionFlag = &cli.StringFlag{
	Name:    "ses-region",
	Value:   "us-east-1",
	Usage:   "AWS region for SES",
	EnvVars: []string{"AWS_REGION"},
}
var SESConfigurationSetFlag = &cli.StringFlag{
	Name:  "ses-configuration-set",
	Usage: "optional SES configuration set",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
