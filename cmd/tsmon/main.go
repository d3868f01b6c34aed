package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tsmon/tsmon/internal/config"
	"github.com/tsmon/tsmon/internal/logging"
	"github.com/tsmon/tsmon/internal/metrics"
	"github.com/tsmon/tsmon/internal/monitor"
	"github.com/tsmon/tsmon/internal/notify"
	"github.com/tsmon/tsmon/internal/registry"
	"github.com/tsmon/tsmon/internal/store"
	"github.com/tsmon/tsmon/internal/ts3"
)

func main() {
	cfgFile := flag.String("config", "", "Path to config file")
	poll := flag.Duration("poll-interval", 0, "Poll interval override (e.g. 10s)")
	dataFile := flag.String("data-file", "", "Path to the server/subscription data file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *cfgFile != "" {
		c, err := config.LoadConfigFromFile(*cfgFile)
		if err != nil {
			log.Fatalf("failed loading config: %v", err)
		}
		cfg = c
	}

	if err := config.ApplyEnvOverrides(cfg); err != nil {
		log.Fatalf("invalid environment configuration: %v", err)
	}

	// CLI flags have highest precedence
	if *poll > 0 {
		cfg.PollInterval = *poll
	}
	if *dataFile != "" {
		cfg.DataFile = *dataFile
	}

	cleanup := initLogging()
	defer cleanup()

	for _, warning := range cfg.Validate() {
		logging.Get().Warn().Msg(warning)
	}

	initMetricsAndInflux(cfg)

	st, err := store.Open(cfg.DataFile)
	if err != nil {
		logging.Get().Fatal().Err(err).Str("path", cfg.DataFile).Msg("failed to open data file")
	}
	// Servers declared in the config are upserted so a fresh deployment can
	// start monitoring without a separate provisioning step.
	for _, def := range cfg.Servers {
		if def.Name == "" {
			continue
		}
		st.AddServer(def)
	}

	services := notify.BuildServices(cfg.Destinations)
	disp := notify.NewDispatcher(services, notify.DispatcherOptions{
		DeliveryAttempts: cfg.DeliveryAttempts,
		RetryDelay:       cfg.DeliveryRetryDelay,
		DrainInterval:    cfg.QueueDrainInterval,
		QueueMaxRetries:  cfg.QueueMaxRetries,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	reg := registry.New(st, disp, func(def store.ServerDefinition) ts3.Query {
		return ts3.NewConn(def.Host, def.QueryPort, def.QueryUser, def.QueryPassword, def.VirtualServerID)
	}, monitor.Options{
		PollInterval:     cfg.PollInterval,
		LeaveDebounce:    cfg.LeaveDebounce,
		ConnectAttempts:  cfg.ConnectAttempts,
		ConnectBackoff:   cfg.ConnectBackoff,
		MaxCycleFailures: cfg.MaxCycleFailures,
		ReconnectPenalty: cfg.ReconnectPenalty,
		StopTimeout:      cfg.StopTimeout,
	}, cfg.NotificationLevel)

	started := reg.StartAll()
	logging.Get().Info().
		Int("servers", started).
		Int("destinations", len(services)).
		Str("poll_interval", cfg.PollInterval.String()).
		Msg("tsmon started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Get().Info().Msg("shutdown signal received, stopping monitors")
	reg.StopAll()
	cancel()

	// give in-flight notifications a moment to finish
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := disp.Wait(waitCtx); err != nil {
		logging.Get().Warn().Err(err).Msg("timed out waiting for pending notifications")
	}
}

// initLogging initializes log subsystem from env and returns a cleanup func
func initLogging() func() {
	logLevel := os.Getenv("TSMON_LOG_LEVEL")
	logFile := os.Getenv("TSMON_LOG_FILE")
	cleanup, err := logging.Init(logFile, logLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return cleanup
}

// initMetricsAndInflux starts the optional metrics server and Influx pusher
func initMetricsAndInflux(cfg *config.Config) {
	if cfg.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PromHandler())
			mux.Handle("/status", metrics.JSONHandler())
			addr := fmt.Sprintf(":%d", cfg.MetricsPort)
			logging.Get().Info().Str("addr", addr).Msg("starting metrics server")
			_ = http.ListenAndServe(addr, mux)
		}()
	}
	if cfg.InfluxURL != "" {
		go metrics.StartInfluxPusher(context.Background(), cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
	}
}
