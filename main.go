// Command littletone runs the LittleTone advisory backend: an HTTP service
// that augments user messages and screenshots with locally retrieved social
// knowledge and returns structured replies from a vision-capable model.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/littletone/littletone/internal/api"
	"github.com/littletone/littletone/internal/chat"
	"github.com/littletone/littletone/internal/config"
	"github.com/littletone/littletone/internal/history"
	"github.com/littletone/littletone/internal/image"
	"github.com/littletone/littletone/internal/knowledge"
	"github.com/littletone/littletone/internal/log"
	"github.com/littletone/littletone/internal/ratelimit"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // model calls dominate response latency
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "littletone:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	historyStore, limitStore, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("creating stores: %w", err)
	}
	defer func() { _ = historyStore.Close() }()
	defer func() { _ = limitStore.Close() }()

	retriever := knowledge.NewRetriever(cfg.DictionaryPath, cfg.ScenarioPath,
		logger.With("component", "knowledge"))
	images := image.NewProcessor(logger.With("component", "image"))
	limiter := ratelimit.NewLimiter(limitStore, cfg.Cooldown(),
		logger.With("component", "ratelimit"))

	service, err := chat.NewService(chat.ServiceConfig{
		Genkit:    g,
		ModelName: cfg.ModelName,
		Generation: chat.GenerationConfig{
			Temperature:     cfg.Temperature,
			PresencePenalty: cfg.PresencePenalty,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		Retriever:     retriever,
		Images:        images,
		Store:         historyStore,
		HistoryWindow: cfg.HistoryWindow,
		Logger:        logger.With("component", "chat"),
	})
	if err != nil {
		return fmt.Errorf("creating chat service: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Service:     service,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "model", cfg.ModelName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildStores creates the history and rate-limit stores for the configured
// driver. The redis driver shares one client between both stores.
func buildStores(cfg *config.Config) (history.Store, ratelimit.Store, error) {
	if cfg.StoreDriver == config.StoreRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		hs, err := history.NewStore(cfg.StoreDriver,
			history.WithRedisClient(client),
			history.WithRedisTTL(cfg.RedisTTL()),
		)
		if err != nil {
			return nil, nil, err
		}
		ls, err := ratelimit.NewStore(cfg.StoreDriver,
			ratelimit.WithRedisClient(client),
			ratelimit.WithTTL(10*cfg.Cooldown()),
		)
		if err != nil {
			return nil, nil, err
		}
		return hs, ls, nil
	}

	hs, err := history.NewStore(cfg.StoreDriver)
	if err != nil {
		return nil, nil, err
	}
	ls, err := ratelimit.NewStore(cfg.StoreDriver, ratelimit.WithTTL(10*cfg.Cooldown()))
	if err != nil {
		return nil, nil, err
	}
	return hs, ls, nil
}
