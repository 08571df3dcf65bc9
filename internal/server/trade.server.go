// internal/server/server.go
package server

import (
	"context"
	"log"
	"net/http"

	"trade-service/internal/config"
	rh "trade-service/internal/handler/rest"
	wsh "trade-service/internal/handler/websocket"
	"trade-service/internal/pkg/middleware"
	"trade-service/internal/provider/chainwatcher"
	"trade-service/internal/repository"
	"trade-service/internal/router"
	"trade-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func NewServer(cfg config.AppConfig) *http.Server {
	// --- Init Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	// --- Connect Postgres ---
	db, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("failed to connect DB: %v", err)
	}

	// --- Init Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("[Redis] Connected successfully")

	// --- Init Repositories ---
	ticketRepo := repository.NewTicketRepository(db, logger)
	if err := ticketRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure trade schema: %v", err)
	}
	passLedger := repository.NewPassLedgerRepository(rdb, logger)

	// --- Init Chain Watcher client ---
	watcher := chainwatcher.NewClient(cfg.WatcherURL, cfg.WatcherSecret, logger)

	// --- Init WebSocket hub ---
	eventHub := wsh.NewTicketEventHub(logger)

	// --- Init Usecases ---
	ucCfg := usecase.DefaultConfig()
	ucCfg.TransactionTimeout = cfg.TransactionTimeout
	ucCfg.CloseDelay = cfg.CloseDelay
	ticketUsecase := usecase.NewTicketUsecase(ticketRepo, passLedger, watcher, eventHub, logger, ucCfg)
	chainBridge := usecase.NewChainBridge(ticketUsecase, logger)

	// Durable deadlines live in stored timestamps. The sweeper turns them
	// into transitions even when no request touches the ticket.
	go ticketUsecase.RunDeadlineSweeper(ctx, cfg.SweepInterval)

	// --- Init Middleware ---
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)

	// --- Init Handlers ---
	ticketHandler := rh.NewTicketRestHandler(ticketUsecase, logger)
	webhookHandler := rh.NewChainWebhookHandler(chainBridge, cfg.WatcherSecret, logger)

	log.Println("[Trade] Handlers initialized")

	// --- Router ---
	r := chi.NewRouter()
	r = router.SetupRoutes(r, ticketHandler, webhookHandler, eventHub, auth, rdb).(*chi.Mux)

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
}
