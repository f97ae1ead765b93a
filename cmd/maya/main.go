package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sharpy077/m2mmoving-sub000/internal/anthropic"
	"github.com/Sharpy077/m2mmoving-sub000/internal/api"
	"github.com/Sharpy077/m2mmoving-sub000/internal/config"
	"github.com/Sharpy077/m2mmoving-sub000/internal/engine"
	"github.com/Sharpy077/m2mmoving-sub000/internal/hermes"
	"github.com/Sharpy077/m2mmoving-sub000/internal/kv"
	"github.com/Sharpy077/m2mmoving-sub000/internal/metrics"
	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
	"github.com/Sharpy077/m2mmoving-sub000/internal/reengage"
	"github.com/Sharpy077/m2mmoving-sub000/internal/resilience"
	"github.com/Sharpy077/m2mmoving-sub000/internal/session"
	"github.com/Sharpy077/m2mmoving-sub000/internal/slack"
	"github.com/Sharpy077/m2mmoving-sub000/internal/tools"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("maya starting", "port", cfg.Port, "store", cfg.StoreBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store
	backend, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	sessions := session.NewStore(backend,
		session.WithTTL(cfg.SessionTTL),
		session.WithRetention(cfg.CompletedRetention),
		session.WithLogger(slog.Default()))
	slog.Info("session store ready", "backend", cfg.StoreBackend)

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// Business tools
	registry := tools.NewRegistry(slog.Default())
	if cfg.ToolsBaseURL != "" {
		client := &http.Client{Timeout: 20 * time.Second}
		if err := tools.RegisterRemote(registry, client, cfg.ToolsBaseURL); err != nil {
			slog.Error("failed to register remote tools", "error", err)
			os.Exit(1)
		}
		slog.Info("remote tools registered", "base_url", cfg.ToolsBaseURL)
	} else {
		slog.Warn("MAYA_TOOLS_URL not set, running without business lookup, quotes or payments")
	}

	// Notifications: live websocket subscribers, plus NATS when configured
	hub := notify.NewHub(slog.Default())
	notifiers := notify.Multi{hub}
	escalators := notify.Escalators{notify.LogEscalator{Logger: slog.Default()}}
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		notifiers = append(notifiers, hermesClient)
		escalators = append(escalators, hermesClient)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("nats not configured, notifications stay in-process")
	}

	// Slack poster (optional, hand-offs still go to the log and NATS without it)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		escalators = append(escalators, slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default()))
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, escalations are not posted to the sales channel")
	}

	m := metrics.New()

	eng := engine.New(llm, registry, sessions, engineConfig(cfg),
		engine.WithLogger(slog.Default()),
		engine.WithMetrics(m),
		engine.WithNotifier(notifiers),
		engine.WithEscalator(escalators))

	sweeper, err := session.NewSweeper(sessions, cfg.SweepSchedule, slog.Default())
	if err != nil {
		slog.Error("invalid sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, eng,
		api.WithHub(hub),
		api.WithMetrics(m),
		api.WithLogger(slog.Default()))
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if hermesClient != nil {
		if err := hermesClient.OnClose(eng.Close); err != nil {
			slog.Warn("failed to subscribe to close requests", "error", err)
		}
		if err := hermesClient.Publish("maya.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("maya ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	sweeper.Stop()
	eng.Shutdown()
	cancel()
	slog.Info("maya stopped")
}

func openStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return kv.NewPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return kv.NewRedis(ctx, cfg.RedisURL)
	case "memory":
		return kv.NewMemory(), nil
	default:
		return kv.OpenSQLite(ctx, cfg.SQLitePath)
	}
}

func engineConfig(cfg config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.EscalationThreshold = cfg.EscalationThreshold
	ec.Timeouts = resilience.Timeouts{
		Normal:  cfg.ResponseTimeout,
		Initial: cfg.InitialResponseTimeout,
		Tool:    cfg.ToolResponseTimeout,
	}
	ec.Delays = reengage.Delays{
		Warning:  cfg.WarningDelay,
		Final:    cfg.FinalDelay,
		Recovery: cfg.RecoveryDelay,
	}
	ec.MaxNudges = cfg.MaxNudges
	ec.MaxConversations = cfg.MaxConversations
	ec.IdleTTL = cfg.ConversationIdleTTL
	ec.SupportPhone = cfg.SupportPhone
	ec.SupportEmail = cfg.SupportEmail
	return ec
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
