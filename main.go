package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"yesman-claude/apiserver"
	"yesman-claude/config"
	"yesman-claude/controller"
	"yesman-claude/eventbus"
	"yesman-claude/learner"
	"yesman-claude/logging"
	"yesman-claude/paneio"
	"yesman-claude/promptlib"
	"yesman-claude/supervisor"
)

func main() {
	var opts struct {
		Install   bool   `long:"install" description:"install as a platform service"`
		Uninstall bool   `long:"uninstall" description:"uninstall the platform service"`
		Config    string `short:"c" long:"config" description:"path to an optional YAML config file"`
		BindAddr  string `short:"b" long:"bind" description:"override bind_addr"`
	}

	if _, err := flags.ParseArgs(&opts, os.Args); err != nil {
		return
	}

	if opts.Install {
		serviceInstall(true)
		return
	}
	if opts.Uninstall {
		serviceInstall(false)
		return
	}

	if opts.Config != "" {
		_ = os.Setenv("YESMAN_CONFIG_FILE", opts.Config)
	}
	if opts.BindAddr != "" {
		_ = os.Setenv("YESMAN_BIND_ADDR", opts.BindAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runSupervisor(ctx)
}

// runSupervisor wires every component (paneio -> promptlib -> learner ->
// eventbus -> controller -> supervisor -> apiserver) and blocks until ctx
// is cancelled, then drains gracefully. This is the single place that
// threads every dependency explicitly, matching the teacher's run()
// wiring everything off of utils.ReadConfig()/utils.InitLogger(). It
// reads its config path from YESMAN_CONFIG_FILE so both the direct CLI
// path and the kardianos/service-invoked path (which cannot pass
// arguments into Program.Start) load identically.
func runSupervisor(ctx context.Context) {
	cfg, err := config.Load(os.Getenv("YESMAN_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup, err := logging.Init(logging.Level(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		fmt.Printf("logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	logger.Info("yesman-claude starting", zap.String("bind", cfg.BindAddr))

	backend := paneio.NewPTYBackend(logger)

	library := promptlib.NewLibrary(logger)
	if err := library.Load(cfg.PatternDir); err != nil {
		logger.Fatal("pattern library invalid", zap.Error(err))
	}
	go func() {
		if err := library.Watch(ctx, cfg.PatternDir); err != nil {
			logger.Warn("pattern library watch exited", zap.Error(err))
		}
	}()

	store, err := learner.NewStore(cfg.StoreDir, cfg.LearnerFlushTime, logger)
	if err != nil {
		logger.Fatal("learner store invalid", zap.Error(err))
	}
	if _, err := store.LoadAll(); errors.Is(err, learner.ErrStoreCorrupted) {
		logger.Error("learner store corrupted", zap.Error(err))
		os.Exit(3)
	}
	responder := learner.New(learner.Config{
		ConfidenceThreshold:  cfg.ConfidenceThreshold,
		ConfidenceMargin:     cfg.ConfidenceMargin,
		HalfLifeDays:         cfg.HalfLifeDays,
		MaxRecordsPerPrint:   cfg.MaxRecordsPerPrint,
		CrossProjectWidening: cfg.CrossProjectWidening,
		CrossProjectWeight:   cfg.CrossProjectWeight,
		FailurePenalty:       1,
	}, store)

	bus := eventbus.New(logger, cfg.EventSubscriberBuffer)

	sup := supervisor.New(backend, library, responder, bus, supervisor.Config{
		ReconcileInterval: cfg.ReconcileEvery,
		GraceDeadline:     cfg.ShutdownGrace,
		MaxWorkers:        int64(cfg.WorkerPoolMax),
		Controller:        controllerConfig(cfg),
		ShellOverride:     cfg.ShellOverride,
		ShellEnv:          cfg.ShellEnv,
	}, logger)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	apiserver.New(app, sup, bus, "Yesman Claude Supervisor", "1.0.0", logger)

	go func() {
		if err := app.Listen(cfg.BindAddr); err != nil {
			logger.Error("api listener exited", zap.Error(err))
		}
	}()

	go sup.Run(ctx)

	<-ctx.Done()
	logger.Info("yesman-claude shutting down")
	_ = app.ShutdownWithTimeout(cfg.ShutdownGrace)
	<-sup.Done()
}

func controllerConfig(cfg *config.Config) controller.Config {
	return controller.Config{
		DebounceWindow:  cfg.DebounceWindow,
		CooldownWindow:  cfg.CooldownWindow,
		SendKeysTimeout: cfg.SendKeysTimeout,
		BackoffBase:     cfg.BackendBackoff,
		BackoffMax:      cfg.BackendBackoffMx,
		MailboxDepth:    cfg.ControllerMailboxSize,
		RecentLines:     cfg.RecentPromptLines,
	}
}
