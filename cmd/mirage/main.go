// Package main wires the mirage executable entry point and lifecycle management.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mirageproxy/mirage/pkg/classify"
	"github.com/mirageproxy/mirage/pkg/config"
	"github.com/mirageproxy/mirage/pkg/obfuscate"
	"github.com/mirageproxy/mirage/pkg/proxy"
	"github.com/mirageproxy/mirage/pkg/telemetry"
)

const (
	defaultConfigPath        = "mirage.yaml"
	serviceName              = "mirage"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to the configuration file")
	dataAddr := flag.String("listen", "", "HTTP listen address for the proxy data plane")
	adminAddr := flag.String("admin-listen", "", "HTTP listen address for the admin endpoints")
	upstream := flag.String("upstream", "", "Backend base URL")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP endpoint")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Missing config file is only fatal when the operator named one explicitly;
	// the default path is optional because env vars can carry the full config.
	path := *configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration load failed: %v\n", err)
		os.Exit(1)
	}

	// Apply flag overrides
	if *dataAddr != "" {
		cfg.Server.DataAddress = *dataAddr
	}
	if *adminAddr != "" {
		cfg.Server.AdminAddress = *adminAddr
	}
	if *upstream != "" {
		cfg.Upstream.BaseURL = *upstream
	}
	if *otelEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = *otelEndpoint
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}

// run orchestrates the application lifecycle.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Environment: os.Getenv("MIRAGE_ENVIRONMENT"),
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	classifiers, err := classify.NewFileProvider(classify.ProviderOptions{
		Header:         cfg.Classifier.Header,
		Signatures:     cfg.Classifier.Signatures,
		SignaturesFile: cfg.Classifier.SignaturesFile,
		OverrideParam:  cfg.Classifier.Override.Param,
		OverrideValue:  cfg.Classifier.Override.Value,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("classifier initialization failed: %w", err)
	}
	defer func() {
		if err := classifiers.Close(); err != nil {
			logger.Warn("classifier provider close error", "error", err)
		}
	}()

	origin, err := proxy.NewOrigin(cfg.Upstream.BaseURL, cfg.Upstream.Timeout())
	if err != nil {
		return fmt.Errorf("origin client initialization failed: %w", err)
	}

	filler, err := buildFiller(cfg.Obfuscation.Mappers)
	if err != nil {
		return fmt.Errorf("filler initialization failed: %w", err)
	}

	metrics := proxy.NewMetrics()
	pipeline := proxy.NewPipeline(proxy.PipelineOptions{
		Classifiers: classifiers,
		Origin:      origin,
		HTML: obfuscate.NewHTML(filler, obfuscate.HTMLOptions{
			KeepTitle:     cfg.Obfuscation.KeepTitle,
			IgnoreNodeIDs: cfg.Obfuscation.IgnoreNodeIDs,
			MetaTags:      cfg.Obfuscation.MetaTags,
		}),
		JSON:           obfuscate.NewJSON(filler),
		MaxBufferBytes: cfg.Upstream.MaxBufferBytes,
		ErrorStyle:     proxy.ErrorPageStyle(cfg.ErrorPages.Style),
		Metrics:        metrics,
		Logger:         logger,
	})

	adminSrv := startAdminServer(cfg.Server.AdminAddress, metrics, logger)
	defer shutdownServer(adminSrv, "admin", logger)

	dataSrv := startDataServer(cfg.Server.DataAddress, pipeline, logger)
	defer shutdownServer(dataSrv, "data plane", logger)

	logger.Info("proxy running",
		"data_address", cfg.Server.DataAddress,
		"admin_address", cfg.Server.AdminAddress,
		"upstream", cfg.Upstream.BaseURL,
		"signatures", len(cfg.Classifier.Signatures),
	)

	awaitShutdownSignal(logger)
	return nil
}

func buildFiller(mappers []config.RuneMapper) (*obfuscate.Filler, error) {
	if len(mappers) == 0 {
		return obfuscate.NewFiller(nil), nil
	}

	ranges := make([]obfuscate.RangeMapper, 0, len(mappers))
	for _, m := range mappers {
		parsed, err := obfuscate.ParseRangeMapper(m.SourceStart, m.SourceEnd, m.TargetStart, m.TargetEnd)
		if err != nil {
			return nil, fmt.Errorf("mapper %q: %w", m.Comment, err)
		}
		ranges = append(ranges, parsed)
	}
	return obfuscate.NewFiller(ranges), nil
}

// startDataServer starts the proxy data plane server.
func startDataServer(addr string, pipeline *proxy.Pipeline, logger *slog.Logger) *http.Server {
	handler := otelhttp.NewHandler(pipeline, "mirage.data")
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streamed passthrough bodies have no write deadline
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("data plane server listen error", "error", err)
			return
		}
		logger.Info("data plane server listening", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("data plane server error", "error", err)
		}
	}()

	return server
}

// startAdminServer starts the health and metrics server.
func startAdminServer(addr string, metrics *proxy.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("admin server listen error", "error", err)
			return
		}
		logger.Info("admin server listening", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	return server
}

func shutdownServer(server *http.Server, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", "server", name, "error", err)
	}
}

func shutdownTelemetry(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown error", "error", err)
	}
}

// awaitShutdownSignal blocks until a shutdown signal arrives.
func awaitShutdownSignal(logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
}
