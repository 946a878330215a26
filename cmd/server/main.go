package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eduvision/focus-server/internal/admission"
	"github.com/eduvision/focus-server/internal/api"
	"github.com/eduvision/focus-server/internal/config"
	"github.com/eduvision/focus-server/internal/gaze"
	"github.com/eduvision/focus-server/internal/logger"
	"github.com/eduvision/focus-server/internal/metrics"
	"github.com/eduvision/focus-server/internal/publish"
	"github.com/eduvision/focus-server/internal/session"
)

var (
	// Command-line flags; pipeline tuning comes from the environment.
	httpAddr    = flag.String("http", ":8081", "HTTP server address")
	metricsAddr = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr   = flag.String("pprof", ":6060", "pprof server address")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server owns the frame pipeline components and their lifecycles.
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        config.Config
	metrics    *metrics.Metrics
	limiter    *admission.Limiter
	publisher  *publish.Publisher
	aggregator *session.Aggregator
	httpServer *http.Server
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Focus server starting...")
	logger.Info("Main", "Log level: %s", level)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	srv := NewServer(cfg)
	srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// NewServer wires the pipeline together.
func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()
	limiter := admission.NewLimiter(cfg.MaxClientFPS)

	publisher := publish.New(publish.Config{Endpoint: cfg.TrackingSaveURL}, m)

	aggregator := session.New(session.Config{
		Machine:          cfg.MachineConfig(),
		SnapshotInterval: cfg.SnapshotInterval,
		IdleTimeout:      cfg.SessionIdleTimeout,
	}, publisher, m)

	apiSrv := api.NewServer(cfg, gaze.NewHeuristicExtractor(), aggregator, limiter, m)

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: apiSrv.Router(),
	}

	return &Server{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		metrics:    m,
		limiter:    limiter,
		publisher:  publisher,
		aggregator: aggregator,
		httpServer: httpServer,
	}
}

// Start launches all components.
func (s *Server) Start() {
	logger.Info("Main", "HTTP server: %s", *httpAddr)
	logger.Info("Main", "Metrics server: %s", *metricsAddr)
	logger.Info("Main", "pprof server: %s", *pprofAddr)
	if s.cfg.TrackingSaveURL == "" {
		logger.Warn("Main", "TRACKING_SAVE_URL not set, snapshot persistence disabled")
	} else {
		logger.Info("Main", "Persistence endpoint: %s", s.cfg.TrackingSaveURL)
	}

	go func() {
		logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			logger.Error("Main", "pprof server error: %v", err)
		}
	}()

	go func() {
		logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
		if err := s.metrics.StartServer(*metricsAddr); err != nil {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", *httpAddr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.publisher.Start()
	s.aggregator.Run(s.ctx)

	// Limiter buckets outlive sessions by the same idle budget.
	go func() {
		ticker := time.NewTicker(s.cfg.SessionIdleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if n := s.limiter.Sweep(s.cfg.SessionIdleTimeout); n > 0 {
					logger.Debug("Main", "Swept %d idle rate-limit buckets", n)
				}
			}
		}
	}()

	logger.Info("Main", "Server started successfully")
}

// Shutdown stops all components, flushing final snapshots first.
func (s *Server) Shutdown() error {
	// Stop accepting frames before flushing sessions.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.cancel()
	s.aggregator.Wait()
	s.publisher.Stop()
	return err
}
