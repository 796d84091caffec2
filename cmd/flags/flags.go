package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/election-ceremony-console/api"
	"github.com/ruteri/election-ceremony-console/common"
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

// ConfigureServer builds the HTTP server config. The write timeout covers
// election creation, which runs inside the setup-keys request.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	creationTimeout := cCtx.Duration(CreationTimeoutFlag.Name)

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             creationTimeout + 30*time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the console API",
}

var ConsoleURLFlag = &cli.StringFlag{
	Name:    "console",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"CEREMONY_CONSOLE_URL"},
	Usage:   "base URL of the ceremony console",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:  "storage",
	Value: cli.NewStringSlice("file:///var/lib/election-ceremony"),
	Usage: "storage URI for the persisted election (file://, s3://, vault://, memory://), may be repeated",
}

var ElectionFileFlag = &cli.StringFlag{
	Name:  "election-file",
	Usage: "election definition JSON loaded at startup",
}

var CreationServiceFlag = &cli.StringFlag{
	Name:  "creation-service",
	Value: "local",
	Usage: "'local' for the built-in threshold key generator, or the base URL of an ElectionGuard creation service",
}

var CreationTimeoutFlag = &cli.DurationFlag{
	Name:  "creation-timeout",
	Value: 60 * time.Second,
	Usage: "timeout for a remote election creation call",
}

var DeviceModeFlag = &cli.StringFlag{
	Name:  "device-mode",
	Value: "sim",
	Usage: "'sim' to report devices through the API, or 'dir' to watch a mount directory",
}

var DeviceRootFlag = &cli.StringFlag{
	Name:  "device-root",
	Value: "/media/ceremony",
	Usage: "directory where smartcards and drives are mounted (device-mode 'dir')",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
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
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
