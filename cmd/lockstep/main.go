package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/lockstep/internal/config"
	"github.com/zsiec/lockstep/internal/health"
	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/playback"
	"github.com/zsiec/lockstep/internal/registry"
	"github.com/zsiec/lockstep/internal/server"
	lsync "github.com/zsiec/lockstep/internal/sync"
	"github.com/zsiec/lockstep/pkg/version"
)

func main() {
	var (
		configPath  string
		shareQuery  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.StringVar(&shareQuery, "share", "", "Share query (v1=<id>&o1=<ms>...) to load instead of the configured streams")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logrusLogger, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.FromLogrus(logrusLogger)

	log.WithField("version", version.GetInfo().Short()).Info("Starting Lockstep sync engine")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
		cancel()
	}()

	engine := lsync.NewEngine(
		lsync.ConfigFrom(cfg.Sync),
		simFactory(cfg.Simulator),
		lsync.WithLogger(log),
		lsync.WithObserver(&logObserver{log: logger.WithComponent(log, "session")}),
	)

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	if err := engine.Seed(ctx, initialStreams(cfg, shareQuery, log)); err != nil {
		log.WithError(err).Error("Failed to load streams")
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	healthMgr := health.NewManager(log)
	healthMgr.Register(health.NewEngineChecker(engine))

	var publisherDone chan struct{}
	if cfg.Redis.Enabled {
		client := registry.NewClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unreachable, status mirror will retry on every publish")
		} else {
			log.Info("Connected to Redis successfully")
		}
		healthMgr.Register(health.NewRedisChecker(client))

		reg := registry.NewRedisRegistry(client, log, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		defer func() {
			if err := reg.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()

		pub := registry.NewPublisher(engine, reg, instanceID(), cfg.Redis.PublishInterval, log)
		publisherDone = make(chan struct{})
		go func() {
			defer close(publisherDone)
			if err := pub.Run(ctx); err != nil {
				log.WithError(err).Error("Registry publisher stopped with error")
			}
		}()
	}

	srv := server.New(&cfg.Server, log, engine, healthMgr)
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("Server error")
		cancel()
	}

	if publisherDone != nil {
		<-publisherDone
	}

	select {
	case err := <-engineDone:
		if err != nil {
			log.WithError(err).Error("Sync engine stopped with error")
		}
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn("Sync engine did not stop in time")
	}

	log.Info("Shutdown complete")
}

// initialStreams picks the startup stream list. A share query wins over the
// config file, even when none of its streams is usable; nil falls back to
// the built-in defaults in Seed.
func initialStreams(cfg *config.Config, shareQuery string, log logger.Logger) []lsync.StreamSpec {
	if shareQuery != "" {
		specs, ok := lsync.ParseShareQuery(shareQuery)
		if ok {
			log.WithField("streams", len(specs)).Info("Loading streams from share query")
			return specs
		}
		log.WithField("share", shareQuery).Warn("Share query has no v parameters, ignoring it")
	}
	return lsync.SpecsFrom(cfg.Streams)
}

// simFactory builds simulated players whose clocks are skewed by up to
// SkewPPM parts per million in either direction.
func simFactory(cfg config.SimulatorConfig) playback.Factory {
	opts := playback.SimOptions{
		ReadyDelay: cfg.ReadyDelay,
		SeekBuffer: cfg.SeekBuffer,
	}
	ppm := float64(cfg.SkewPPM)
	return playback.SimFactory(opts, func() float64 {
		return 1 + (rand.Float64()*2-1)*ppm/1e6
	})
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "lockstep"
	}
	return host + "-" + uuid.NewString()[:8]
}

// logObserver reports session changes at info level.
type logObserver struct {
	log logger.Logger
}

func (o *logObserver) PlayingChanged(playing bool) {
	o.log.WithField("playing", playing).Info("Playback state changed")
}

func (o *logObserver) DriftMeasured(string, lsync.DriftReading) {}

func (o *logObserver) StreamsChanged(count int) {
	o.log.WithField("streams", count).Info("Stream set changed")
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server error")
	}
}
