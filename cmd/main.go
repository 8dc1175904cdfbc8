package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"flow"
	"flow/internal/api/handler/endpoints"
	"flow/internal/api/service"
	"flow/internal/api/websocket"
	"flow/internal/comfy"
	"flow/internal/notify"
	"flow/internal/realtime"
	"flow/pkg"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := flow.LoadConfig(".env")
	logger := flow.NewLogger(cfg.LogFormat)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	gin.SetMode(gin.ReleaseMode)
	if !cfg.IsProduction() {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := service.LoadWorkflowFile(cfg.WorkflowPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load workflow")
	}
	clientID := uuid.New().String()
	logger = logger.With().Str("session", clientID).Logger()
	comfyClient := comfy.NewClient(cfg.Comfy.URL, logger)

	// Browser feed, optionally mirrored to NATS
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	logger.Info().Msg("WebSocket hub started")

	sinks := []websocket.Sink{hub}
	if cfg.NatsConfig.URL != "" {
		publisher, err := realtime.NewPublisher(cfg.NatsConfig.URL, cfg.NatsConfig.SubjectPrefix, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, feed stays local")
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}
	feed := websocket.NewFeedPresenter(clientID, logger, sinks...)

	workflowService := service.NewWorkflowService(doc, logger)
	workflowService.SetListener(feed)
	executionService := service.NewExecutionService(ctx, comfyClient, feed, clientID, logger,
		notify.WithViewBase(cfg.Comfy.URL))
	assetService := service.NewAssetService(comfyClient, connectCache(ctx, cfg, logger), cfg.RedisConfig.AssetTTL, logger)

	pushURL, err := comfyClient.PushURL(cfg.Comfy.WebsocketURL, clientID)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid push channel address")
	}
	upstream := websocket.NewUpstream(pushURL, executionService.Router(),
		cfg.Comfy.ReconnectMin, cfg.Comfy.ReconnectMax, logger,
		websocket.WithStateChange(feed.UpstreamConnected))
	go upstream.Run(ctx)

	router, err := graceful.Default(graceful.WithAddr(cfg.ApiPort))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	processor := websocket.NewCommandProcessor(executionService, workflowService, logger)
	endpoints.WorkflowHandler(router, workflowService, logger)
	endpoints.ExecutionHandler(router, executionService, workflowService, upstream, logger)
	endpoints.AssetHandler(router, assetService, logger)
	endpoints.WebSocketHandler(router, hub, processor, logger)

	logger.Info().Str("comfy", cfg.Comfy.URL).Msgf("Starting flow API on port %s", cfg.ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Server stopped")
	}

	executionService.Wait()
	logger.Info().Msg("Shutdown complete")
}

// connectCache returns nil when Redis is not configured or unreachable; assets are then
// fetched on every request.
func connectCache(ctx context.Context, cfg flow.AppConfig, logger zerolog.Logger) *pkg.Cache {
	rdb, err := flow.ConnectRedis(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Asset cache disabled")
		return nil
	}
	if rdb == nil {
		return nil
	}
	logger.Info().Str("host", cfg.RedisConfig.Host).Msg("Asset cache connected")
	return pkg.NewCache(rdb, "flow:")
}
