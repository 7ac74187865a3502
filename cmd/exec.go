package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"queue-system/config"
	"queue-system/internal/handlers"
	"queue-system/internal/services"
	"queue-system/monitoring"
	"queue-system/security"
	"queue-system/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	// Load configuration
	cfg := config.LoadConfig()
	logger := utils.NewLogger(cfg.Environment)

	app := pocketbase.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Event sinks
	monitor := monitoring.NewMonitor()
	breaker := utils.NewCircuitBreaker("pubnub", utils.BreakerSettings{})
	notifier := services.NewNotifier(services.WithBreaker(services.NewPubNubPublisher(pn), breaker))
	audit := services.NewAuditRecorder(app)

	dispatcher := services.NewEventDispatcher(cfg.EventBuffer, cfg.NotifyRate, monitor,
		notifier,
		audit,
		services.AuditLogSink(logger),
	)
	dispatcher.Start()
	defer dispatcher.Shutdown()

	// Initialize services
	store := services.NewRedisTicketStore(redisClient)
	queueService := services.NewQueueService(cfg, store, services.NewQueueIndex(), dispatcher, monitor)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(queueService)
	agentHandler := handlers.NewAgentHandler(queueService)
	adminHandler := handlers.NewAdminHandler(queueService, audit)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.IntakeRateLimit, time.Minute)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})
	app.RootCmd.AddCommand(NewQueueCommand(queueService))

	bindCatalogHooks(app, queueService)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		if err := syncCatalog(ctx, e.App, queueService); err != nil {
			slog.Error("catalog sync failed", "error", err)
		}
		if _, err := queueService.RebuildIndex(ctx); err != nil {
			return err
		}

		// Start background tasks
		go queueService.Run(ctx)
		if cfg.EnableMetrics {
			go monitoring.StartMetricsServer(ctx, cfg.MetricsPort)
		}

		// Citizen endpoints
		e.Router.POST("/api/v1/tickets", queueHandler.EnqueueTicket).
			BindFunc(security.RequireKioskKey(cfg.KioskKeyHash)).
			BindFunc(rateLimiter.IntakeRateLimit)
		e.Router.GET("/api/v1/tickets/{number}", queueHandler.GetTicketPosition)
		e.Router.GET("/api/v1/queues", queueHandler.GetQueues)
		e.Router.GET("/api/v1/queues/{serviceType}/next", queueHandler.PeekNext)
		e.Router.GET("/api/v1/queues/{serviceType}/depth", queueHandler.GetDepth)

		// Agent endpoints
		agent := e.Router.Group("/api/v1/agent")
		agent.Bind(apis.RequireAuth("agents"))
		agent.GET("/me", agentHandler.Me)
		agent.POST("/call-next", agentHandler.CallNext)
		agent.POST("/tickets/{id}/close", agentHandler.CloseTicket)
		agent.PUT("/status", agentHandler.SetStatus)

		// Admin endpoints
		admin := e.Router.Group("/api/v1/admin")
		admin.BindFunc(handlers.RequireAdmin)
		admin.POST("/tickets/{id}/requeue", adminHandler.RequeueTicket)
		admin.POST("/tickets/{id}/cancel", adminHandler.CancelTicket)
		admin.POST("/tickets/{id}/assign", adminHandler.AssignTicket)
		admin.POST("/tickets/{id}/close", adminHandler.CloseTicket)
		admin.GET("/tickets/{id}/history", adminHandler.TicketHistory)
		admin.POST("/queue/rebuild", adminHandler.RebuildIndex)
		admin.POST("/queue/aging", adminHandler.RunAging)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{
				"status":  "healthy",
				"breaker": breaker.State().String(),
			})
		})

		slog.Info("server routes registered")
		return e.Next()
	})

	// Start server
	return app.Start()
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
