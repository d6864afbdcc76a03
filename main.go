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
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"presence-service/internal/auth"
	"presence-service/internal/config"
	"presence-service/internal/db"
	"presence-service/internal/handlers"
	"presence-service/internal/middleware"
	"presence-service/internal/observability"
	"presence-service/internal/presence"
	"presence-service/internal/rabbitmq"
	"presence-service/internal/repositories"
	"presence-service/internal/telemetry"
	"presence-service/internal/ws"
)

const serviceName = "presence-service"

type stores struct {
	messages repositories.MessageStore
	presence repositories.PresenceStore
	friends  repositories.FriendStore
	close    func()
}

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to store driver=%s: %v", cfg.StoreDriver, err)
	}
	defer st.close()

	var mirror presence.Mirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to redis addr=%s: %v", cfg.RedisAddr, err)
		}
		mirror = presence.NewRedisMirror(rdb, cfg.NodeID, cfg.PresenceTTL)
		log.Printf("presence mirror enabled addr=%s ttl=%s node_id=%s", cfg.RedisAddr, cfg.PresenceTTL, cfg.NodeID)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	mode, reason := rabbitmq.Describe(publisher)
	log.Printf("event publisher mode=%s reason=%s", mode, reason)

	recorder := presence.NewRecorder(st.presence, mirror)
	defer recorder.Close()

	hub := ws.NewHub(ws.NewRegistry(), st.messages, recorder, ws.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		SendBuffer:       cfg.SendBuffer,
	})
	validator := auth.NewValidator(cfg.JWTSecret)
	if !validator.Enabled() {
		log.Printf("JWT_SECRET not set, trusting X-User-ID and userId query parameters")
	}

	audit := telemetry.NewAuditEmitter(publisher, serviceName, cfg.Environment)
	messageHandler := handlers.NewMessageHandler(st.messages, hub, audit)
	friendHandler := handlers.NewFriendHandler(st.friends, hub, mirror, audit)
	chatWS := ws.NewChatWebSocketHandler(hub, validator, cfg.FrontendOrigins)

	router := gin.New()

	// middlewares
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node_id": cfg.NodeID, "online": len(hub.Online())})
	})

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/messages/:user_id", authMiddleware, messageHandler.GetConversation)
	router.POST("/messages", authMiddleware, messageHandler.PostMessage)
	router.GET("/friends", authMiddleware, friendHandler.ListFriends)
	router.GET("/presence/:user_id", authMiddleware, friendHandler.GetPresence)

	router.GET("/ws", chatWS.Handle)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("listening addr=%s store=%s", srv.Addr, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	// hijacked websocket connections outlive srv.Shutdown
	hub.Close("server shutdown")
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.StoreDriver {
	case "mongo", "mongodb":
		client, database, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, err
		}
		store := repositories.NewMongoStore(database)
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Printf("mongo index setup failed: %v", err)
		}
		return stores{
			messages: store,
			presence: store,
			friends:  store,
			close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					log.Printf("mongo disconnect error: %v", err)
				}
			},
		}, nil
	case "postgres", "":
		database, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			return stores{}, err
		}
		users := repositories.NewUserRepo(database)
		return stores{
			messages: repositories.NewMessageRepo(database),
			presence: users,
			friends:  users,
			close:    func() { database.Close() },
		}, nil
	default:
		return stores{}, errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}
}
