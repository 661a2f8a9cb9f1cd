// ABOUTME: Entry point for the ThreatPulse threat intelligence aggregation service.
// ABOUTME: Handles initialization, configuration parsing, and starts the HTTP server.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/config"
	"github.com/jfeddern/ThreatPulse/internal/engine"
	"github.com/jfeddern/ThreatPulse/internal/enrich"
	"github.com/jfeddern/ThreatPulse/internal/metrics"
	"github.com/jfeddern/ThreatPulse/internal/providers"
	"github.com/jfeddern/ThreatPulse/internal/server"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := newLogger(os.Getenv("LOG_LEVEL"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	service, err := NewService(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create service")
	}

	if err := service.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}
}

// newLogger sets up structured JSON logging
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if parsed, err := logrus.ParseLevel(level); err == nil && level != "" {
		logger.SetLevel(parsed)
	}
	return logger
}

// parseConfig reads flags, then lets environment variables override them
func parseConfig(args []string, getenv func(string) string) (*engine.Config, error) {
	cfg := &engine.Config{}

	fs := flag.NewFlagSet("threatpulse", flag.ContinueOnError)
	fs.StringVar(&cfg.Mode, "mode", "live", "Operation mode: live or local")
	fs.IntVar(&cfg.Port, "port", 8080, "Port to serve the API on")
	fs.StringVar(&cfg.SourcesFile, "sources-file", "", "Path to YAML file with feeds, communities, and policy overrides")
	fs.StringVar(&cfg.FixtureFile, "fixture-file", "", "Path to JSON file with records (required for local mode)")
	fs.StringVar(&cfg.NVDAPIKey, "nvd-api-key", "", "API key for the vulnerability database")
	fs.StringVar(&cfg.GitHubToken, "github-token", "", "Token for code search")
	fs.DurationVar(&cfg.RefreshInterval, "refresh-interval", 0, "Interval to warm the cache in the background (0 disables)")
	fs.BoolVar(&cfg.MockMode, "mock", false, "Enable mock mode for local testing (no external API calls)")
	fs.Int64Var(&cfg.MockSeed, "mock-seed", 42, "Seed for the mock connectors")
	fs.IntVar(&cfg.MaxConcurrentFetches, "max-concurrent-fetches", 8, "Maximum connectors fetching at once")
	fs.IntVar(&cfg.KEVWindowDays, "kev-window-days", 30, "Days of known-exploited catalog additions to include")
	fs.IntVar(&cfg.NVDWindowDays, "nvd-window-days", 14, "Days of vulnerability database publications to include")
	fs.IntVar(&cfg.GitHubHourlyBudget, "github-hourly-budget", 60, "Code search calls allowed per hour")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with environment variables if set
	if envMode := getenv("MODE"); envMode != "" {
		cfg.Mode = envMode
	}
	if envPort := getenv("PORT"); envPort != "" {
		port, err := strconv.Atoi(envPort)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT environment variable: %s", envPort)
		}
		cfg.Port = port
	}
	if envSources := getenv("SOURCES_FILE"); envSources != "" {
		cfg.SourcesFile = envSources
	}
	if envFixture := getenv("FIXTURE_FILE"); envFixture != "" {
		cfg.FixtureFile = envFixture
	}
	if envKey := getenv("NVD_API_KEY"); envKey != "" {
		cfg.NVDAPIKey = envKey
	}
	if envToken := getenv("GITHUB_TOKEN"); envToken != "" {
		cfg.GitHubToken = envToken
	}
	if envInterval := getenv("REFRESH_INTERVAL"); envInterval != "" {
		interval, err := time.ParseDuration(envInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid REFRESH_INTERVAL environment variable: %s", envInterval)
		}
		cfg.RefreshInterval = interval
	}
	if envMock := getenv("MOCK_MODE"); envMock == "true" || envMock == "1" {
		cfg.MockMode = true
	}
	if envSeed := getenv("MOCK_SEED"); envSeed != "" {
		seed, err := strconv.ParseInt(envSeed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MOCK_SEED environment variable: %s", envSeed)
		}
		cfg.MockSeed = seed
	}

	// Validate configuration
	if cfg.Mode != "live" && cfg.Mode != "local" {
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.Mode == "local" && !cfg.MockMode && cfg.FixtureFile == "" {
		return nil, errors.New("fixture file is required for local mode (unless using mock mode)")
	}
	if cfg.RefreshInterval < 0 {
		return nil, fmt.Errorf("refresh interval must not be negative: %s", cfg.RefreshInterval)
	}

	return cfg, nil
}

type Service struct {
	config *engine.Config
	logger *logrus.Logger
	engine *engine.Engine
}

func NewService(cfg *engine.Config, logger *logrus.Logger) (*Service, error) {
	logger.WithFields(logrus.Fields{
		"mode":             cfg.Mode,
		"port":             cfg.Port,
		"mock":             cfg.MockMode,
		"sources_file":     cfg.SourcesFile,
		"refresh_interval": cfg.RefreshInterval,
	}).Info("Initializing ThreatPulse")

	sources, err := config.Load(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	cfg.Policy = sources.Policy

	// Create connectors using factory
	providerConfig := &providers.ProviderConfig{
		Mode:               cfg.Mode,
		FixtureFile:        cfg.FixtureFile,
		NVDAPIKey:          cfg.NVDAPIKey,
		GitHubToken:        cfg.GitHubToken,
		GitHubHourlyBudget: cfg.GitHubHourlyBudget,
		KEVWindowDays:      cfg.KEVWindowDays,
		NVDWindowDays:      cfg.NVDWindowDays,
		MockMode:           cfg.MockMode,
		MockSeed:           cfg.MockSeed,
		Sources:            sources,
	}

	set, err := providers.CreateConnectors(providerConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectors: %w", err)
	}

	enricher := enrich.NewEnricher(set.Probability, set.Searcher, cfg.Policy, logger)
	aggregationEngine := engine.NewEngine(set.Connectors, enricher, cfg, logger)

	logger.WithField("connectors", set.Names()).Info("Connectors ready")

	return &Service{
		config: cfg,
		logger: logger,
		engine: aggregationEngine,
	}, nil
}

// Router wires the HTTP endpoints
func (s *Service) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.securityMiddleware)
	router.HandleFunc("/aggregate", server.CreateAggregateHandler(s.engine, s.logger))
	router.HandleFunc("/metrics", metrics.CreateMetricsHandler(s.engine, s.logger))
	router.HandleFunc("/health", s.healthHandler)
	return router
}

func (s *Service) Start(ctx context.Context) error {
	if s.config.RefreshInterval > 0 {
		go s.warmCache(ctx)
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      90 * time.Second, // a cache miss waits for a full cycle
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("HTTP server shutdown incomplete")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"port": s.config.Port,
		"mode": s.config.Mode,
	}).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// warmCache forces a cycle immediately and then on every tick so requests
// rarely wait for upstream sources
func (s *Service) warmCache(ctx context.Context) {
	logger := s.logger.WithField("component", "warmer")
	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		if _, err := s.engine.Aggregate(ctx, true); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Background refresh failed")
		}

		select {
		case <-ctx.Done():
			logger.Info("Stopping background refresh")
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		// Only allow specific HTTP methods
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Log the request
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next.ServeHTTP(w, r)
	})
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}
