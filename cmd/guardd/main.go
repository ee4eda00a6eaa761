package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/guardkit/guardkit/pkg/config"
	"github.com/guardkit/guardkit/pkg/errors"
	"github.com/guardkit/guardkit/pkg/health"
	"github.com/guardkit/guardkit/pkg/logging"
	"github.com/guardkit/guardkit/pkg/metrics"
	"github.com/guardkit/guardkit/pkg/resilience"
	"github.com/guardkit/guardkit/pkg/tracing"
)

func main() {
	// Load .env if present; real environments set variables directly
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "guardd",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize metrics
	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	// Initialize tracing
	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "guardd",
		Environment:    os.Getenv("ENVIRONMENT"),
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Wire the guard engine
	degradation := resilience.NewDegradationManager()
	degradation.Register(cfg.Guards.Key, resilience.LevelSevere)

	opts := cfg.PolicyOptions()
	if opts.CircuitBreaker != nil {
		opts.CircuitBreaker.OnStateChange = degradation.BreakerFeed()
	}
	opts.Fallback = &resilience.FallbackConfig{}

	composer := resilience.NewGuardComposer(resilience.ComposerConfig{
		Observer: m.Observer(),
		Tracer:   tracer.GuardTracer(),
	})

	// Alerting on guard activity
	alertManager := resilience.NewAlertManager()
	alertManager.AddHandler(resilience.NewLoggingAlertHandler())
	monitor := resilience.NewDegradationMonitor(alertManager, degradation)

	// Health checks
	healthSvc := health.NewService(logger, nil)
	healthSvc.RegisterChecker("breakers", health.NewBreakerChecker(composer.Breakers(), "breakers"))
	healthSvc.RegisterChecker("bulkheads", health.NewBulkheadChecker(composer.Bulkheads(), "bulkheads"))
	healthSvc.RegisterChecker("degradation", health.NewDegradationChecker(degradation, "degradation"))

	// Upstream HTTP client, traced
	client := tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout})

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	defer monitor.Stop()

	collector := metrics.NewGaugeCollector(m, composer.Breakers(), composer.Bulkheads(), 10*time.Second)
	go collector.Start(ctx)
	defer collector.Stop()

	// HTTP surface
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(m.PrometheusMiddleware())
	if cfg.Tracing.Enabled {
		router.Use(tracer.TracingMiddleware())
	}

	router.GET("/health", healthSvc.Handler())
	router.GET("/health/live", healthSvc.LivenessHandler())
	router.GET("/health/ready", healthSvc.ReadinessHandler())
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/guards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"breakers":  composer.Breakers().Stats(),
			"bulkheads": composer.Bulkheads().Stats(),
			"level":     degradation.Level().String(),
		})
	})
	router.Any("/call/*path", proxyHandler(cfg, composer, opts, client))

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting guard daemon", "addr", server.Addr, "upstream", cfg.Upstream.URL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown failed", "error", err)
	}

	logger.Info("Server exited")
}

// upstreamResponse carries what the proxy needs to replay the upstream
// answer to the caller
type upstreamResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// proxyHandler forwards a request to the upstream under the configured
// guard policies and maps guard failures onto HTTP status codes
func proxyHandler(cfg *config.Config, composer *resilience.GuardComposer, opts resilience.PolicyOptions, client *http.Client) gin.HandlerFunc {
	logger := logging.GetLogger()

	return func(c *gin.Context) {
		path := c.Param("path")
		target := cfg.Upstream.URL + path
		if raw := c.Request.URL.RawQuery; raw != "" {
			target += "?" + raw
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		operation := func(ctx context.Context) (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, newBodyReader(body))
			if err != nil {
				return nil, errors.NewValidationError("invalid upstream request").WithCause(err)
			}
			req.Header = c.Request.Header.Clone()

			resp, err := client.Do(req)
			if err != nil {
				return nil, errors.NewExternalError("upstream", "request failed").WithCause(err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, errors.NewExternalError("upstream", "failed to read response body").WithCause(err)
			}

			if resp.StatusCode >= 500 {
				return nil, errors.NewExternalError("upstream", "returned server error").
					WithDetail("status_code", strconv.Itoa(resp.StatusCode))
			}

			return &upstreamResponse{
				status:  resp.StatusCode,
				headers: resp.Header,
				body:    respBody,
			}, nil
		}

		result, err := composer.Execute(c.Request.Context(), "upstream_call", opts, operation, nil)
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case resilience.IsCircuitOpen(err):
				status = http.StatusServiceUnavailable
			case resilience.IsBulkheadRejected(err):
				status = http.StatusTooManyRequests
			case errors.IsType(err, errors.ErrorTypeValidation):
				status = http.StatusBadRequest
			}
			logger.Warn("Guarded upstream call failed", "path", path, "error", err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		resp := result.(*upstreamResponse)
		for key, values := range resp.headers {
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Data(resp.status, resp.headers.Get("Content-Type"), resp.body)
	}
}

// newBodyReader returns a fresh reader per attempt so retries resend the
// full body
func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}
