package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elaracare/elara/server/adapters/memory"
	"github.com/elaracare/elara/server/adapters/mongo"
	"github.com/elaracare/elara/server/adapters/openai"
	"github.com/elaracare/elara/server/domain/repositories"
	"github.com/elaracare/elara/server/internal/api"
	"github.com/elaracare/elara/server/internal/auth"
	"github.com/elaracare/elara/server/internal/config"
	"github.com/elaracare/elara/server/internal/pipeline"
	"github.com/elaracare/elara/server/internal/ratelimit"
	"github.com/elaracare/elara/server/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: MongoDB when configured, in-memory otherwise.
	var (
		users         repositories.UserRepository
		conversations repositories.ConversationRepository
	)
	if cfg.UseMongo() {
		client, err := mongo.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Close(context.Background())
		users = mongo.NewUserRepository(client.Database)
		conversations = mongo.NewConversationRepository(client.Database)
	} else {
		logger.Warn("MONGODB_URI not set, using in-memory stores")
		users = memory.NewUserStore()
		conversations = memory.NewConversationStore()
	}

	// Analysis and generation backend.
	var (
		sentiment repositories.SentimentAnalyzer
		crisis    repositories.CrisisDetector
		responder repositories.ResponseGenerator
	)
	if cfg.UseOpenAI() {
		client := openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, logger)
		sentiment, crisis, responder = client, client, client
	} else {
		logger.Warn("OPENAI_API_KEY not set, using mock analysis and replies")
		mock := openai.NewMockClient()
		sentiment, crisis, responder = mock, mock, mock
	}

	// Per-identity message admission.
	messageLimiter := ratelimit.New(ratelimit.Config{
		Events: cfg.MessageRateLimit,
		Window: cfg.MessageRateWindow,
		Burst:  cfg.MessageRateBurst,
	}, logger)
	go messageLimiter.Janitor(ctx, cfg.MessageRateWindow)

	hub := websocket.NewHub(conversations, messageLimiter, logger)
	pipe := pipeline.New(conversations, sentiment, crisis, responder, hub, logger, pipeline.Options{
		HistoryWindow:     cfg.HistoryWindow,
		AnalysisTimeout:   cfg.AnalysisTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
	})
	hub.AttachPipeline(pipe)

	authService := auth.NewService([]byte(cfg.JWTSecret), cfg.TokenTTL, users, logger)

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Coarse per-IP limit over the whole HTTP surface.
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(cfg.APIRateLimit) / cfg.APIRateWindow.Seconds()),
			Burst:     cfg.APIRateLimit,
			ExpiresIn: cfg.APIRateWindow,
		},
	)))

	api.InitRoutes(e, users, conversations, authService, hub, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))

	<-ctx.Done()

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let in-flight messages finish persisting before the process exits.
	pipe.Drain()

	logger.Info("Server exited")
}
