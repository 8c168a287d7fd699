package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payments_core/internal/app"
	"payments_core/internal/bot"
	"payments_core/internal/config"
	"payments_core/internal/db"
	httpServer "payments_core/internal/http"
	"payments_core/internal/http/handlers"
	"payments_core/internal/http/middleware"
	"payments_core/internal/logger"
	"payments_core/internal/notify"
	"payments_core/internal/repository"
	"payments_core/internal/service"
	"payments_core/internal/ws"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	if err := service.InitJWT(cfg.JWTSecret); err != nil {
		logger.Fatal("jwt init failed", "error", err)
	}
	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		logger.Fatal("invalid settings", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool := db.Connect(cfg.DatabaseURL)
	defer dbPool.Close()
	if applied, err := db.Migrate(ctx, dbPool); err != nil {
		logger.Fatal("migrations failed", "error", err)
	} else if len(applied) > 0 {
		logger.Info("migrations applied", "names", applied)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", "error", err)
	}

	pubs := notify.Multi{notify.NewRedisPublisher(rdb)}
	if cfg.NATSURL != "" {
		np, err := notify.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.Fatal("nats connect failed", "error", err)
		}
		defer np.Close()
		pubs = append(pubs, np)
	}
	if cfg.NSQDAddr != "" {
		qp, err := notify.NewNSQPublisher(cfg.NSQDAddr)
		if err != nil {
			logger.Fatal("nsq producer failed", "error", err)
		}
		defer qp.Stop()
		pubs = append(pubs, qp)
	}

	svc := app.Build(cfg, settings, dbPool, rdb, pubs)
	logger.Info("payment providers registered", "providers", svc.Gateways.Slugs())

	if cfg.AdminBotEnabled {
		ops := bot.NewOperations(svc.Store, svc.Reconciler, svc.Payments, svc.Ledger)
		operator, err := bot.NewOperatorBot(cfg.BotToken, ops, cfg.AdminTelegramIDs)
		if err != nil {
			logger.Error("operator bot disabled", "error", err)
		} else {
			svc.Alerts.Set(operator)
			go operator.Start()
			defer operator.Stop()
		}
	}

	svc.Poller.Start(ctx, cfg.PollInterval)

	hub := ws.NewHub(rdb)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal("realtime hub failed", "error", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	health := handlers.NewHealthHandler(version, map[string]handlers.Check{
		"postgres": func(ctx context.Context) error { return dbPool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	httpServer.RegisterRoutes(r, cfg, httpServer.Deps{
		Handler: &handlers.Handler{
			Payments:    svc.Payments,
			Reconciler:  svc.Reconciler,
			Ledger:      svc.Ledger,
			Commissions: svc.Commissions,
			Poller:      svc.Poller,
			Gateways:    svc.Gateways,
			Store:       svc.Store,
			Stats:       repository.NewStatsRepository(dbPool),
			Production:  cfg.Production(),
		},
		Health:  health,
		Hub:     hub,
		Limiter: middleware.NewRateLimiter(rdb),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "env", cfg.AppEnv, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
}
