// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agora-ai/agora/services/debate"
	"github.com/agora-ai/agora/services/llm"
	"github.com/agora-ai/agora/services/orchestrator/config"
	"github.com/agora-ai/agora/services/orchestrator/middleware"
	"github.com/agora-ai/agora/services/orchestrator/routes"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	// Get the collector URL from the env var we set in podman-compose.yml
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "agora-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("agora-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// backendClient is the concrete client both backends share: an LLMClient
// that also answers health probes and rebinds to per-agent models.
type backendClient interface {
	llm.LLMClient
	Healthy(ctx context.Context) error
}

func initBackend(cfg *config.Config) (backendClient, debate.ClientFactory,
	*debate.Evaluator, error) {

	retryCfg := llm.DefaultRetryConfig()

	var base backendClient
	var withModel func(model string) llm.LLMClient
	switch cfg.Backend {
	case "openai":
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, nil, nil, err
		}
		stalled := client.WithStallTimeout(cfg.StreamStallTimeout)
		base = stalled
		withModel = func(model string) llm.LLMClient { return stalled.WithModel(model) }
		slog.Info("Using OpenAI LLM backend", "stall_timeout", cfg.StreamStallTimeout)
	default: // config.Load rejects anything but ollama|openai
		client, err := llm.NewOllamaClientFromEnv()
		if err != nil {
			return nil, nil, nil, err
		}
		stalled := client.WithStallTimeout(cfg.StreamStallTimeout)
		base = stalled
		withModel = func(model string) llm.LLMClient { return stalled.WithModel(model) }
		slog.Info("Using Ollama LLM backend", "stall_timeout", cfg.StreamStallTimeout)
	}

	factory := func(agent debate.Agent) llm.LLMClient {
		return llm.NewRetryingClient(withModel(agent.Model), retryCfg, nil)
	}
	judge := llm.NewRetryingClient(withModel(cfg.JudgeModel), retryCfg, nil)
	evaluator := debate.NewEvaluator(judge, debate.EvaluatorConfig{}, nil)
	return base, factory, evaluator, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Roster: optional YAML file of named teams and custom formats,
	// hot-reloaded on edit so operators can tune agents without restarts.
	store := config.NewRosterStore(nil)
	if cfg.RosterPath != "" {
		roster, err := config.LoadRoster(cfg.RosterPath)
		if err != nil {
			log.Fatalf("failed to load roster %s: %v", cfg.RosterPath, err)
		}
		store = config.NewRosterStore(roster)
		watcher, err := config.NewWatcher(cfg.RosterPath, store, logger)
		if err != nil {
			log.Fatalf("failed to watch roster %s: %v", cfg.RosterPath, err)
		}
		defer watcher.Close()
	}

	backend, factory, evaluator, err := initBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	breaker := debate.NewBreaker(debate.BreakerConfig{})
	dispatcher := debate.NewDispatcher(debate.DispatchConfig{
		MaxInFlight: cfg.MaxInFlight,
		TurnTimeout: cfg.TurnTimeout,
	}, breaker, logger)
	scheduler := debate.NewScheduler(dispatcher, evaluator, factory,
		llm.GenerationParams{}, logger)
	registry := debate.NewRegistry(debate.RegistryConfig{
		MaxSessions: cfg.MaxSessions,
		Retention:   cfg.SessionRetention,
		IdleTimeout: cfg.IdleTimeout,
	}, scheduler, logger)
	registry.Start()
	defer registry.Stop()

	// Pre-pull roster models so first turns don't pay cold-load latency.
	// Best effort: a model that fails to warm still loads on first use.
	if cfg.Backend == "ollama" && cfg.RosterPath != "" {
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			manager := llm.NewModelManager(baseURL, logger)
			warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := manager.WarmRoster(warmCtx, store.Current().Models(), "10m"); err != nil {
				slog.Warn("roster warmup incomplete", "error", err)
			}
			cancel()
		}
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	auth := middleware.NewTokenAuth(cfg.APIToken)

	router := gin.Default()
	router.Use(otelgin.Middleware("agora-orchestrator"))
	routes.SetupRoutes(router, registry, store, backend, limiter, auth)

	log.Println("Starting the orchestrator server on port ", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
