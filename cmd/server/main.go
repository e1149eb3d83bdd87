package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/lockstore"
	"github.com/iliyamo/bus-seat-reservation/internal/logger"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/seatlock"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	logger.Init(os.Getenv("APP_ENV"))
	cfg := config.Load()
	lockCfg := config.LoadSeatLockConfig()
	amqpCfg := config.LoadAMQPConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass,
		Host: cfg.DBHost, Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mysql connect failed")
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("mysql migrate failed")
		}
	}

	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rdb.Close()

	durable := repository.NewDurable(db)
	locks := seatlock.NewManager(
		lockstore.NewRedis(rdb, lockCfg.Prefix),
		durable,
		seatlock.Config{
			DefaultTTL:           lockCfg.TTL,
			MaxPerSessionPerTrip: lockCfg.MaxPerTrip,
			PaymentTTL:           lockCfg.PaymentTTL,
		},
	)

	var events handler.EventPublisher = queue.Nop{}
	if amqpCfg.Enabled {
		pub := queue.NewPublisher(amqpCfg.URL)
		defer pub.Close()
		events = pub
		if amqpCfg.ConsumeAudit {
			go func() {
				if err := queue.NewAuditConsumer(amqpCfg.URL, amqpCfg.AuditLogPath).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("audit consumer stopped")
				}
			}()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLog())

	router.RegisterRoutes(e, handler.Readiness(db, rdb))
	router.RegisterPublic(e, handler.NewTripsHandler(locks), middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterCheckout(e,
		handler.NewCheckoutHandler(locks, durable, db, events, lockCfg.OpTimeout),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
