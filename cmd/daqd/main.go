// Package main boots daqd: the data-acquisition daemon that polls Modbus/TCP
// devices and ingests MQTT telemetry, processes and rate-derives readings,
// and persists them to TimescaleDB with a dead-letter queue for durability.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/logger"
	"github.com/ibs-source/syslog/consumer/golang/internal/mqtt"
	core "github.com/ibs-source/syslog/consumer/golang/internal/ports"
	runtimex "github.com/ibs-source/syslog/consumer/golang/internal/runtime"
	"github.com/ibs-source/syslog/consumer/golang/internal/service"
	"github.com/ibs-source/syslog/consumer/golang/internal/store"
)

// startRetryInterval is how long daqd waits between failed Start attempts
// (storage unreachable, MQTT broker unreachable) before retrying.
const startRetryInterval = 5 * time.Second

// Application wires configuration, storage, MQTT, and the service orchestrator.
type Application struct {
	config      *config.Config
	logger      core.Logger
	storeClient *store.Client
	mqttClient  core.MQTTClient
	svc         *service.Service
	metrics     *domain.Metrics
	wg          sync.WaitGroup
}

func main() {
	os.Exit(run())
}

// run contains the program logic and returns an exit code. Using this
// pattern ensures defers run and avoids exit-after-defer lint issues.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logr, err := logger.NewLogrusLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	app := &Application{
		config:  cfg,
		logger:  logr,
		metrics: domain.NewMetrics(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		logr.Error("failed to start application", core.Field{Key: "error", Value: err})
		return 1
	}

	if cfg.App.LogLevel == "debug" {
		app.wg.Add(1)
		go app.logStatus(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logr.Info("received shutdown signal", core.Field{Key: "signal", Value: sig})

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logr.Error("failed to shutdown gracefully", core.Field{Key: "error", Value: err})
		return 1
	}

	logr.Info("application shutdown complete")
	return 0
}

// Start creates the storage client and, when MQTT devices are configured, the
// MQTT client, then starts the service orchestrator. Service.Start is retried
// until it succeeds or ctx is canceled; a failure to create either client is
// returned at once without a retry.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting daqd",
		core.Field{Key: "name", Value: app.config.App.Name},
		core.Field{Key: "environment", Value: app.config.App.Environment},
	)

	app.applyCPUAffinityIfConfigured()

	storeClient, err := store.NewClient(app.config.TimescaleDb, app.config.CircuitBreaker, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create timescale client: %w", err)
	}
	app.storeClient = storeClient

	var mqttClient core.MQTTClient
	if len(app.config.MqttDevices) > 0 {
		mqttClient, err = mqtt.NewClient(app.config, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create mqtt client: %w", err)
		}
	}
	app.mqttClient = mqttClient

	app.svc = service.New(app.config, app.storeClient, app.mqttClient, app.logger, app.metrics)

	if err := app.waitForServiceReady(ctx); err != nil {
		return err
	}

	app.logger.Info("daqd started successfully")
	return nil
}

// applyCPUAffinityIfConfigured calls runtimex.ApplyProcessAffinity if
// CPUAffinity is provided; logs a warning on failure. That hook is a no-op on
// every platform, so no CPUs are actually pinned.
func (app *Application) applyCPUAffinityIfConfigured() {
	if len(app.config.App.CPUAffinity) == 0 {
		return
	}
	if err := runtimex.ApplyProcessAffinity(runtimex.AffinitySpec{CPUSet: app.config.App.CPUAffinity}); err != nil {
		app.logger.Warn("failed to apply CPU affinity (best-effort)", core.Field{Key: "error", Value: err})
		return
	}
	app.logger.Info("CPU affinity hook invoked (no-op in this build)", core.Field{Key: "cpus", Value: app.config.App.CPUAffinity})
}

// waitForServiceReady retries Service.Start until it succeeds, storage and
// (if configured) the MQTT broker become reachable, or ctx is canceled.
func (app *Application) waitForServiceReady(ctx context.Context) error {
	for {
		err := app.svc.Start(ctx)
		if err == nil {
			return nil
		}
		app.logger.Warn("service failed to start, will retry",
			core.Field{Key: "error", Value: err})
		select {
		case <-time.After(startRetryInterval):
		case <-ctx.Done():
			return fmt.Errorf("context canceled before service became ready: %w", ctx.Err())
		}
	}
}

// Shutdown stops the service orchestrator and releases storage resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.logger.Info("shutting down daqd")

	if app.svc != nil {
		if err := app.svc.Stop(ctx); err != nil {
			app.logger.Error("failed to stop service", core.Field{Key: "error", Value: err})
		}
	}

	if app.storeClient != nil {
		app.storeClient.Close()
	}

	app.wg.Wait()
	return nil
}

// logStatus periodically logs the service status snapshot when in debug mode.
func (app *Application) logStatus(ctx context.Context) {
	defer app.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := app.svc.Status()
			app.logger.Debug("=== STATUS SNAPSHOT ===")
			app.logger.Debug("Service",
				core.Field{Key: "running", Value: status.IsRunning},
				core.Field{Key: "healthy", Value: status.Healthy},
				core.Field{Key: "total_devices", Value: status.TotalDevices},
				core.Field{Key: "connected_devices", Value: status.ConnectedDevices},
			)
			app.logger.Debug("Store",
				core.Field{Key: "pending_writes", Value: status.Store.PendingWrites},
				core.Field{Key: "dlq_size", Value: status.Store.DLQSize},
				core.Field{Key: "successful_batches", Value: status.Store.TotalSuccessfulBatch},
				core.Field{Key: "failed_batches", Value: status.Store.TotalFailedBatch},
				core.Field{Key: "avg_latency_ms", Value: status.Store.AverageBatchLatencyMs},
			)
			app.logger.Debug("=======================")
		case <-ctx.Done():
			return
		}
	}
}
