// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bering starts the Bering artifact resolution server.
//
// Bering maps loosely-specified requests ("the payroll widget", "that
// approval flow I just made") to specific records on a remote record
// platform whose search index lags writes, with:
//   - Keyword classification plus optional LLM escalation for murky queries
//   - A retry engine that rides out index propagation with backoff and nudges
//   - A two-layer resolution cache (memory + BadgerDB) surviving restarts
//   - Ten conversational tools in function-calling shape for model providers
//   - A websocket stream narrating slow resolves attempt by attempt
//
// Usage:
//
//	BERING_PLATFORM_URL=https://dev.example-platform.com go run ./cmd/bering
//	go run ./cmd/bering -port 9090 -debug
//
// Environment:
//
//	BERING_PLATFORM_URL         Platform instance root (required)
//	BERING_PLATFORM_TOKEN       Bearer token (or BERING_PLATFORM_TOKEN_FILE)
//	BERING_PLATFORM_RPS         Platform request rate limit (default 10)
//	BERING_CACHE_DIR            Durable cache dir (default ~/.aleutian/cache/bering)
//	BERING_CONFIG_DIR           catalog.yaml/search.yaml overrides, hot-reloaded
//	BERING_ARCHIVE_BUCKET       GCS bucket for pre-write record snapshots
//	BERING_INFLUX_URL           InfluxDB resolution analytics (with _TOKEN/_ORG/_BUCKET)
//	OLLAMA_BASE_URL             Enables LLM classification escalation
//	OTEL_EXPORTER_OTLP_ENDPOINT OTLP gRPC span export (host:port)
//	BERING_TRACE_STDOUT         "true" prints spans to stdout instead
//	BERING_METRICS_STDOUT       "true" mirrors metrics to stdout
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8691/healthz
//
//	# Resolve a loose phrase
//	curl -X POST http://localhost:8691/v1/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "incident dashboard widget"}'
//
//	# Tool definitions for a model provider
//	curl http://localhost:8691/v1/tools | jq
//
//	# Watch a slow resolve ride out index lag
//	websocat 'ws://localhost:8691/v1/resolve/stream?query=approval+flow&max_wait_seconds=60'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/bering/services/bridge"
	"github.com/AleutianAI/bering/services/bridge/config"
	"github.com/AleutianAI/bering/services/bridge/resolve"
	badgerstore "github.com/AleutianAI/bering/services/bridge/storage/badger"
	"github.com/AleutianAI/bering/services/bridge/tools"
	"github.com/AleutianAI/bering/services/platform"
)

func main() {
	host := flag.String("host", "", "Interface to bind (default all interfaces)")
	port := flag.Int("port", 8691, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// Set Gin mode and log level together.
	level := slog.LevelInfo
	if *debug {
		gin.SetMode(gin.DebugMode)
		level = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// W3C TraceContext propagation end to end: incoming HTTP headers flow
	// through otelgin into the engine's spans and out to the platform client.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx := context.Background()

	// Telemetry providers must exist before the platform client and engine
	// register their instruments against them.
	shutdownTelemetry, err := setupTelemetry(ctx)
	if err != nil {
		slog.Error("Failed to set up telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Config overrides before anything reads the tables. A present but
	// invalid file is fatal here rather than a silent fallback mid-resolve.
	var watcher *config.Watcher
	if dir := os.Getenv("BERING_CONFIG_DIR"); dir != "" {
		if err := config.ApplyOverrides(ctx, dir); err != nil {
			slog.Error("Failed to apply config overrides", slog.String("error", err.Error()))
			os.Exit(1)
		}
		watcher, err = config.StartWatcher(ctx, dir, slog.Default())
		if err != nil {
			slog.Warn("Config hot reload unavailable", slog.String("error", err.Error()))
		}
	}

	client, err := platform.NewHTTPClient()
	if err != nil {
		slog.Error("Failed to create platform client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Open the durable resolution cache. Graceful degradation: if the
	// directory is unavailable the cache runs memory-only and every entry
	// dies with the process.
	cacheDir := os.Getenv("BERING_CACHE_DIR")
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".aleutian", "cache", "bering")
		}
	}
	mem := resolve.NewMemoryCache()
	var cache resolve.ResolutionCache = mem
	var layered *resolve.LayeredCache
	var cacheDB *badgerstore.DB
	if cacheDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = cacheDir
		db, err := badgerstore.OpenDB(cfg)
		if err != nil {
			slog.Warn("Resolution cache BadgerDB unavailable, running memory-only",
				slog.String("path", cacheDir),
				slog.String("error", err.Error()),
			)
		} else {
			cacheDB = db
			durable := resolve.NewBadgerArtifactStore(db, 0, slog.Default())
			layered = resolve.NewLayeredCache(mem, durable, slog.Default())
			cache = layered
			slog.Info("Resolution cache BadgerDB opened", slog.String("path", cacheDir))
		}
	}

	analytics := resolve.NewAnalyticsFromEnv(slog.Default())

	engine, err := resolve.NewEngine(ctx, resolve.EngineDeps{
		Client:    client,
		Cache:     cache,
		Model:     escalationModel(),
		Analytics: analytics,
	})
	if err != nil {
		slog.Error("Failed to build resolution engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, err := tools.NewRegistry(tools.Deps{
		Engine:   engine,
		Client:   client,
		Archiver: tools.NewArchiverFromEnv(ctx, slog.Default()),
	})
	if err != nil {
		slog.Error("Failed to build tool registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := bridge.NewService(bridge.ServiceDeps{Engine: engine, Registry: registry, Client: client})
	if err != nil {
		slog.Error("Failed to build service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := bridge.NewHandlers(svc)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("bering"))
	if *debug {
		router.Use(gin.Logger())
	}

	// Probes and scrapers live at the root, outside the versioned API.
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	bridge.RegisterRoutes(v1, handlers)

	// Startup warmup runs in the background so the first request is never
	// blocked on it: restore the durable cache into memory and check the
	// platform release. Both are advisory.
	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		g, gctx := errgroup.WithContext(warmCtx)
		g.Go(func() error {
			client.CheckVersion(gctx)
			return nil
		})
		if layered != nil {
			g.Go(func() error {
				n, err := layered.Warmup(gctx)
				if err != nil {
					return fmt.Errorf("cache warmup: %w", err)
				}
				slog.Info("Resolution cache warmed from disk", slog.Int("entries", n))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			slog.Warn("Startup warmup incomplete", slog.String("error", err.Error()))
		}
	}()

	printBanner(*port)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Bering server")
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				slog.Warn("Failed to close config watcher", slog.String("error", err.Error()))
			}
		}
		analytics.Close()
		if cacheDB != nil {
			if err := cacheDB.Close(); err != nil {
				slog.Warn("Failed to close resolution cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(flushCtx)
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf("%s:%d", *host, *port)
	slog.Info("Starting Bering server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupTelemetry installs the global trace and meter providers.
//
// Description:
//
//	Spans go to an OTLP gRPC collector when OTEL_EXPORTER_OTLP_ENDPOINT is
//	set, or to stdout when BERING_TRACE_STDOUT=true; with neither, spans
//	stay in-process (context propagation still works). Metrics always feed
//	the Prometheus registry behind /metrics; BERING_METRICS_STDOUT=true
//	mirrors them to stdout for collector-less debugging.
//
// Outputs:
//   - func(context.Context): Flushes and stops the providers.
//   - error: Non-nil when an exporter cannot be constructed.
func setupTelemetry(ctx context.Context) (func(context.Context), error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("bering"),
			semconv.ServiceVersion(bridge.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
		conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("otlp grpc client: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
		slog.Info("OTLP span export enabled", slog.String("endpoint", endpoint))
	} else if os.Getenv("BERING_TRACE_STDOUT") == "true" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	promReader, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus metric exporter: %w", err)
	}
	metricOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promReader),
	}
	if os.Getenv("BERING_METRICS_STDOUT") == "true" {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		metricOpts = append(metricOpts,
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(30*time.Second),
			)),
		)
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("Trace provider shutdown failed", slog.String("error", err.Error()))
		}
		if err := mp.Shutdown(ctx); err != nil {
			slog.Warn("Meter provider shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}

// escalationModel builds the LLM used for low-confidence classification
// escalation. Returns nil (escalation disabled) when no provider is
// configured — resolution works fine without it, murky queries just fall
// back to the breadth sweep sooner.
func escalationModel() llms.Model {
	base := os.Getenv("OLLAMA_BASE_URL")
	if base == "" {
		return nil
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "glm-4.7-flash"
	}
	llm, err := ollama.New(ollama.WithServerURL(base), ollama.WithModel(model))
	if err != nil {
		slog.Warn("Escalation model unavailable, keyword classification only",
			slog.String("error", err.Error()))
		return nil
	}
	slog.Info("Classification escalation enabled", slog.String("model", model))
	return llm
}

// printBanner prints the startup banner.
func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                       BERING RESOLUTION SERVER                     ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                    ║
║  Conversational artifact resolution against an eventually-         ║
║  consistent record platform.                                       ║
║                                                                    ║
║  Quick Start:                                                      ║
║  ┌──────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                               │  ║
║  │ curl http://localhost:%d/healthz                          │  ║
║  │                                                              │  ║
║  │ # Resolve a loose phrase                                     │  ║
║  │ curl -X POST http://localhost:%d/v1/resolve \             │  ║
║  │   -H "Content-Type: application/json" \                      │  ║
║  │   -d '{"query": "incident dashboard widget"}'                │  ║
║  │                                                              │  ║
║  │ # Tool definitions for a model provider                      │  ║
║  │ curl http://localhost:%d/v1/tools | jq                    │  ║
║  └──────────────────────────────────────────────────────────────┘  ║
║                                                                    ║
║  Endpoints:                                                        ║
║  ├── Resolve: /v1/resolve, /v1/resolve/stream (ws), /v1/verify     ║
║  ├── Cache: /v1/invalidate, /v1/debug/cache/keys                   ║
║  ├── Records: /v1/records/:collection/:id                          ║
║  ├── Tools: /v1/tools, /v1/tools/call                              ║
║  └── Ops: /healthz, /metrics, /v1/debug/{catalog,breadth}          ║
║                                                                    ║
║  Press Ctrl+C to stop                                              ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port, port)
}
