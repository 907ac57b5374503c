package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/conversation"
	"github.com/taskpilot/taskpilot/internal/db"
	"github.com/taskpilot/taskpilot/internal/httpapi"
	"github.com/taskpilot/taskpilot/internal/tasks"
	"github.com/taskpilot/taskpilot/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbClient, err := db.NewClient(&db.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConnections:  cfg.Database.MaxConnections,
		IdleConnections: cfg.Database.IdleConnections,
		MaxLifetime:     cfg.Database.MaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer dbClient.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Rate limiting fails open, so a missing Redis degrades rather
		// than blocks startup.
		logger.Warn("redis unreachable, rate limiting disabled", zap.Error(err))
	}
	cancel()

	conversations := conversation.NewStore(dbClient, logger)
	taskStore := tasks.NewStore(dbClient, logger)
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(taskStore, logger)

	completions := agent.NewClient(agent.ClientConfig{
		BaseURL:           cfg.Agent.BaseURL,
		Model:             cfg.Agent.Model,
		Timeout:           cfg.Agent.Timeout,
		RequestsPerSecond: cfg.Agent.RequestsPerSecond,
	}, logger)

	orchestrator := agent.NewOrchestrator(conversations, registry, executor, completions, logger, agent.Options{
		MaxHistory:          cfg.Agent.MaxHistory,
		MaxToolCallsPerTurn: cfg.Agent.MaxToolCallsPerTurn,
		MaxRetries:          cfg.Agent.MaxRetries,
	})

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Chat:  httpapi.NewChatHandlers(orchestrator, conversations, logger),
		Tasks: httpapi.NewTaskHandlers(taskStore, logger),
		Redis: rdb,
		RateLimit: httpapi.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
			Window:            time.Minute,
		},
		Logger: logger,
		Health: func(w http.ResponseWriter, r *http.Request) {
			if err := dbClient.DB().PingContext(r.Context()); err != nil {
				http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
