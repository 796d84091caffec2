package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/election-ceremony-console/api"
	"github.com/ruteri/election-ceremony-console/appstate"
	"github.com/ruteri/election-ceremony-console/cmd/flags"
	"github.com/ruteri/election-ceremony-console/common"
	"github.com/ruteri/election-ceremony-console/device"
	"github.com/ruteri/election-ceremony-console/electionguard"
	"github.com/ruteri/election-ceremony-console/flow"
	"github.com/ruteri/election-ceremony-console/interfaces"
	"github.com/ruteri/election-ceremony-console/metrics"
	"github.com/ruteri/election-ceremony-console/storage"
	"github.com/urfave/cli/v2"
)

var consoleFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.StorageFlag,
	flags.ElectionFileFlag,
	flags.CreationServiceFlag,
	flags.CreationTimeoutFlag,
	flags.DeviceModeFlag,
	flags.DeviceRootFlag,
	flags.LogServiceFlagFn(common.PackageName),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "ceremony-console",
		Usage:  "Run the election key ceremony console",
		Flags:  consoleFlags,
		Action: runConsole,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runConsole(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStoreFactory(logger).CreateMultiStore(cCtx.StringSlice(flags.StorageFlag.Name))
	if err != nil {
		logger.Error("Failed to create storage", "err", err)
		return err
	}
	if !store.Available(ctx) {
		logger.Warn("Storage is not reachable, the election will not persist until it is", "store", store.LocationURI())
	}

	state := appstate.NewState(logger, store)
	if err := state.Load(ctx); err != nil {
		logger.Error("Failed to load application state", "err", err)
		return err
	}
	if electionFile := cCtx.String(flags.ElectionFileFlag.Name); electionFile != "" {
		election, err := os.ReadFile(electionFile)
		if err != nil {
			return fmt.Errorf("could not read election file: %w", err)
		}
		if err := state.SetElection(ctx, interfaces.ElectionDraft(election)); err != nil {
			logger.Error("Failed to load election file", "file", electionFile, "err", err)
			return err
		}
		logger.Info("Election loaded", "file", electionFile)
	}

	service, err := creationService(cCtx, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	ceremonyMetrics := metrics.NewMetrics(registry)

	cfg := flow.Config{
		Log:      logger,
		Service:  service,
		AppState: state,
		Metrics:  ceremonyMetrics,
	}

	var watcher *device.Watcher
	switch mode := cCtx.String(flags.DeviceModeFlag.Name); mode {
	case "sim":
		logger.Info("Device events are reported through the console API")
		cfg.Mediator = device.NewSimulator()
	case "dir":
		root := cCtx.String(flags.DeviceRootFlag.Name)
		watcher, err = device.NewWatcher(logger, root)
		if err != nil {
			logger.Error("Failed to watch device root", "root", root, "err", err)
			return err
		}
		cfg.Mediator = device.NewDirectoryMediator(logger, watcher)
		cfg.Armer = watcher
	default:
		return fmt.Errorf("invalid device-mode: %s", mode)
	}

	controller := flow.NewController(cfg)

	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Device watcher stopped", "err", err)
			}
		}()
		go forwardDeviceEvents(ctx, logger, watcher.Events(), controller)
	}

	serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	serverCfg.MetricsGatherer = registry
	server := api.New(serverCfg, api.NewHandler(controller, state, logger))
	server.RunInBackground()

	go func() {
		if err := controller.WaitForReady(ctx); err == nil {
			logger.Info("Election is ready for voting")
		}
	}()

	logger.Info("Console is running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Console shutdown complete")
	return nil
}

func creationService(cCtx *cli.Context, logger *slog.Logger) (interfaces.CeremonyCreationService, error) {
	target := cCtx.String(flags.CreationServiceFlag.Name)
	if target == "local" {
		logger.Info("Using the built-in threshold key generator")
		return electionguard.NewShamirService(logger), nil
	}
	if target == "" {
		return nil, errors.New("creation-service must be 'local' or a URL")
	}
	logger.Info("Using remote ElectionGuard creation service", "url", target)
	return electionguard.NewClient(target, cCtx.Duration(flags.CreationTimeoutFlag.Name)), nil
}

func forwardDeviceEvents(ctx context.Context, logger *slog.Logger, events <-chan interfaces.DeviceEvent, controller *flow.Controller) {
	for ev := range events {
		if err := controller.HandleEvent(ctx, ev); err != nil {
			logger.Warn("Device event not applied", "event", ev.String(), "err", err)
		}
	}
}
