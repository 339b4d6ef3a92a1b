package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ottoengine/ottoengine/adapter/rest"
	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/internal/connection"
	"github.com/ottoengine/ottoengine/internal/engine"
	"github.com/ottoengine/ottoengine/internal/enginelog"
	"github.com/ottoengine/ottoengine/internal/persistence/rulefile"
	"github.com/ottoengine/ottoengine/internal/state"
	"github.com/ottoengine/ottoengine/pkg/config"
	"github.com/ottoengine/ottoengine/pkg/observability"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the engine, scheduler, connection supervisor and REST façade",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// supervisorCaller forwards action.ServiceCaller calls to a supervisor set
// after construction, breaking the engine/supervisor construction cycle:
// the supervisor needs the engine as its Dispatcher, and the engine needs
// something implementing ServiceCaller, but each is built from the other.
type supervisorCaller struct {
	supervisor *connection.Supervisor
}

func (c *supervisorCaller) CallService(ctx context.Context, call state.ServiceCall) error {
	return c.supervisor.CallService(ctx, call)
}

func runServe(parent context.Context) error {
	logger := observability.NewLogger(observability.DefaultLogConfig())
	logger.Info("starting ottoengine")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger = observability.NewLogger(observability.LogConfig{
		Level:  observability.LogLevel(cfg.LogLevel),
		Format: observability.LogFormatJSON,
		Output: os.Stderr,
	})
	metrics := observability.NewInMemoryMetrics()

	store := state.NewStore()
	repo := rulefile.New(cfg.RulesDirectory)
	engineLog := enginelog.New(clock.RealClock{}, enginelog.DefaultMaxRecords)
	caller := &supervisorCaller{}

	eng := engine.New(engine.Config{
		Store:      store,
		Clock:      clock.RealClock{},
		Logger:     logger,
		Metrics:    metrics,
		Repository: repo,
		Caller:     caller,
		EngineLog:  engineLog,
	})

	supervisor := connection.New(connection.Config{
		Host:          cfg.RemoteHost,
		Port:          cfg.RemotePort,
		Token:         cfg.RemoteToken,
		TLS:           cfg.RemoteTLS,
		RedialBackoff: time.Second,
	}, eng, logger)
	caller.supervisor = supervisor

	driver := eng.NewSchedulerDriver()

	restServer := rest.NewServer(rest.ServerConfig{
		Addr:         ":" + strconv.Itoa(cfg.RESTPort),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, eng, logger, func(context.Context) {
		cancel()
	})

	go eng.Run(ctx)
	go driver.Start(ctx)
	go supervisor.Run(ctx)

	if err := eng.Reload(); err != nil {
		logger.Error("initial rule load failed", "error", err)
	}

	go func() {
		if err := restServer.Start(); err != nil {
			logger.Error("REST façade stopped", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST façade shutdown error", "error", err)
	}

	logger.Info("ottoengine stopped")
	return nil
}
