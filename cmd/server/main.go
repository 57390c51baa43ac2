package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/gnn-trainconf/internal/application"
	"github.com/eugenenazirov/gnn-trainconf/internal/config"
	"github.com/eugenenazirov/gnn-trainconf/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	overrides, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "parse flags")

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

// parseFlags maps command-line flags onto config overrides. Flags left unset
// keep the YAML, environment, or default values.
func parseFlags(args []string) (*config.CLIOverrides, error) {
	app := kingpin.New("trainconf-server", "GNN training configuration service - validates and plans training documents over HTTP")
	configFile := app.Flag("config", "Path to YAML service configuration file").String()
	port := app.Flag("port", "HTTP port exposed by the service").String()
	logLevel := app.Flag("log-level", "Log level (debug, info, warn, error)").String()
	var checkPathsSet, strictSet, maxBodySet bool
	checkPaths := app.Flag("check-paths", "Verify that iotool.dataset.data_dirs exist by default").IsSetByUser(&checkPathsSet).Bool()
	strict := app.Flag("strict-batch-size", "Reject documents whose sampler batch size differs from iotool.batch_size").IsSetByUser(&strictSet).Bool()
	maxBody := app.Flag("max-body-bytes", "Largest accepted YAML document in bytes").IsSetByUser(&maxBodySet).Int64()
	components := app.Flag("component", "Extra registry entry as kind:name (repeatable)").Strings()
	rateLimitRPS := app.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurst := app.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		Components: *components,
	}
	if *port != "" {
		overrides.Port = port
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}
	if checkPathsSet {
		overrides.CheckPaths = checkPaths
	}
	if strictSet {
		overrides.StrictBatch = strict
	}
	if maxBodySet {
		overrides.MaxBodyBytes = maxBody
	}
	if *rateLimitRPS >= 0 {
		overrides.RateLimitRPS = rateLimitRPS
	}
	if *rateLimitBurst >= 0 {
		overrides.RateLimitBurst = rateLimitBurst
	}
	return overrides, nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
