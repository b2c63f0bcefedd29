package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"hobbymeet-sync/internal/config"
	"hobbymeet-sync/internal/db"
	"hobbymeet-sync/internal/handlers"
	"hobbymeet-sync/internal/middleware"
	"hobbymeet-sync/internal/observability"
	"hobbymeet-sync/internal/rabbitmq"
	"hobbymeet-sync/internal/realtime"
	"hobbymeet-sync/internal/repositories"
	"hobbymeet-sync/internal/restapi"
	"hobbymeet-sync/internal/telemetry"
	"hobbymeet-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.OTLPEndpoint, cfg.Service, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	auditEmitter := telemetry.NewAuditEmitter(publisher, "audit."+cfg.Service, cfg.Service, cfg.Environment)

	credentialRepo := repositories.NewCredentialRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	api := restapi.NewClient(cfg.Backend.APIURL, credentialRepo, cfg.Backend.DialTimeout)

	hub := ws.NewHub()
	sync := realtime.New(realtime.Deps{
		Store: credentialRepo,
		Transport: func() ws.Transport {
			return ws.NewClient(ws.ClientConfig{
				URL:         cfg.Backend.WSURL,
				DialTimeout: cfg.Backend.DialTimeout,
				AckTimeout:  cfg.Backend.AckTimeout,
			})
		},
		API:           api,
		Archive:       messageRepo,
		Notifier:      hub,
		Audit:         auditEmitter,
		MaxRetries:    cfg.Sync.RetryMax,
		RetryInterval: cfg.Sync.RetryInterval,
		TypingWindow:  cfg.Sync.TypingWindow,
		PollInterval:  cfg.Sync.PollInterval,
	})

	resumeCtx, cancelResume := context.WithTimeout(context.Background(), cfg.Backend.DialTimeout)
	resumed, err := sync.Resume(resumeCtx)
	cancelResume()
	if err != nil {
		log.Printf("session resume failed: %v", err)
	} else if resumed {
		log.Printf("session resumed user_id=%s state=%s", sync.Status().UserID, sync.Status().State)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Service))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session": sync.Status().State})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterBridgeRoutes(router, sync)
	handlers.RegisterDebugRoutes(router, auditEmitter, sync, cfg.DebugRoutes)

	uiWS := ws.NewUIHandler(hub, sync.Status)
	router.GET("/ws/updates", uiWS.Handle)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("hobbymeet-sync listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	sync.Close()
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
