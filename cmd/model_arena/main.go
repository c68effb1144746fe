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
	"time"

	"github.com/eval-hub/model-arena/cmd/model_arena/server"
	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/aggregator"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/logging"
	"github.com/eval-hub/model-arena/internal/participants"
	"github.com/eval-hub/model-arena/internal/runs"
	"github.com/eval-hub/model-arena/internal/scoring"
	"github.com/eval-hub/model-arena/internal/storage"
	"github.com/eval-hub/model-arena/internal/telemetry"
	"github.com/eval-hub/model-arena/internal/validation"
)

var (
	// Version can be set during the compilation
	Version string = "0.0.1"
	// Build is set during the compilation
	Build string
	// BuildDate is set during the compilation
	BuildDate string
)

func main() {
	logger, logShutdown, err := logging.NewLogger()
	if err != nil {
		// we do this as no point trying to continue
		startUpFailed(nil, err, "Failed to create service logger", logging.FallbackLogger())
	}

	serviceConfig, err := config.LoadConfig(logger, Version, Build, BuildDate)
	if err != nil {
		startUpFailed(nil, err, "Failed to create service config", logger)
	}

	validate, err := validation.NewValidator()
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to create validator", logger)
	}

	telemetryShutdown, err := telemetry.Setup(context.Background(), serviceConfig.Telemetry, serviceConfig.Service.Version)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to set up telemetry", logger)
	}

	// the archive of runs and aggregate results
	storage, err := storage.NewStorage(serviceConfig.Database, logger)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to create storage", logger)
	}

	descriptors, err := config.LoadParticipantConfigs(logger)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to load participant configs", logger)
	}
	openRouter := participants.NewOpenRouterClient(logger, serviceConfig.OpenRouter)
	registry, err := participants.NewRegistry(context.Background(), logger, serviceConfig, openRouter, descriptors)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to create participants", logger)
	}

	scorer, err := newScorer(logger, serviceConfig, openRouter)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to create scorer", logger)
	}
	agg := aggregator.New(logger, scorer, serviceConfig.Runs.AggregationTimeout, serviceConfig.Judge.Concurrency)

	manager, err := runs.NewManager(logger, serviceConfig.Runs, validate, registry, agg, storage)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to create run manager", logger)
	}

	srv, err := server.NewServer(logger, serviceConfig, manager, registry, validate)
	if err != nil {
		startUpFailed(serviceConfig, err, "Failed to create server", logger)
	}

	// log the start up details
	logger.Info("Server starting",
		"server_port", srv.GetPort(),
		"version", serviceConfig.Service.Version,
		"build", serviceConfig.Service.Build,
		"build_date", serviceConfig.Service.BuildDate,
		"local", serviceConfig.Service.LocalMode,
		"participants", len(registry.IDs()),
		"scorer", agg.ScorerName(),
		"storage", storage.GetDatasourceName(),
		"telemetry", serviceConfig.Telemetry.Exporter,
	)

	go func() {
		if err := srv.Start(); err != nil {
			if errors.Is(err, &server.ServerClosedError{}) {
				logger.Info("Server closed gracefully")
				return
			}
			startUpFailed(serviceConfig, err, "Server failed to start", logger)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	waitForShutdown := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), waitForShutdown)
	defer cancel()

	// live runs are cancelled first, their event logs close and the open streams end
	if err := manager.Shutdown(ctx); err != nil {
		logger.Error("Runs did not stop in time", "error", err.Error(), "timeout", waitForShutdown)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error(), "timeout", waitForShutdown)
	} else {
		logger.Info("Server shutdown gracefully")
	}
	if err := telemetryShutdown(ctx); err != nil {
		logger.Error("Failed to flush telemetry", "error", err.Error())
	}
	if err := storage.Close(); err != nil {
		logger.Error("Failed to close storage", "error", err.Error())
	}
	_ = logShutdown() // ignore the error
}

// newScorer uses the judge model when it can be reached, the lexical scorer otherwise.
func newScorer(logger *slog.Logger, serviceConfig *config.Config, openRouter *participants.OpenRouterClient) (abstractions.Scorer, error) {
	if serviceConfig.Service.LocalMode || !openRouter.Configured() {
		logger.Info("Using the lexical scorer", "local", serviceConfig.Service.LocalMode)
		return scoring.NewLexical(), nil
	}
	return scoring.NewJudge(logger, serviceConfig.Judge, openRouter)
}

func startUpFailed(conf *config.Config, err error, msg string, logger *slog.Logger) {
	termErr := server.SetTerminationMessage(server.GetTerminationFile(conf, logger), fmt.Sprintf("%s: %s", msg, err.Error()), logger)
	if termErr != nil {
		logger.Error("Failed to set termination message", "message", msg, "error", termErr.Error())
		log.Println(termErr.Error())
	}
	log.Fatal(err)
}
