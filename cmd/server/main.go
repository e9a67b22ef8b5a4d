package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/provly/consumer-gateway/internal/config"
	"github.com/provly/consumer-gateway/internal/database"
	"github.com/provly/consumer-gateway/internal/grants"
	"github.com/provly/consumer-gateway/internal/handler"
	"github.com/provly/consumer-gateway/internal/lifecycle"
	"github.com/provly/consumer-gateway/internal/middleware"
	"github.com/provly/consumer-gateway/internal/oauth"
	"github.com/provly/consumer-gateway/internal/queue"
	"github.com/provly/consumer-gateway/internal/repository"
	"github.com/provly/consumer-gateway/internal/router"
	queue_publisher "github.com/provly/consumer-gateway/internal/service"
)

func main() {
	// .env is optional; real deployments configure the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Redis backs the protocol nonce cache and rate limiting; a nil
	// client disables both instead of blocking startup.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; nonce replay protection and rate limiting disabled")
	}

	users := repository.NewUserRepo(db)
	consumers := repository.NewConsumerRepo(db)
	acceptances := repository.NewAcceptanceRepo(db)
	tokens := repository.NewRequestTokenRepo(db)

	caps := lifecycle.DefaultRoleCapabilities()
	sinks := queue_publisher.NewSinks()
	ctl := lifecycle.NewController(consumers, acceptances, caps,
		grants.DefaultCatalog(), sinks, sinks, cfg.ReadOnly)

	tokenTTL := time.Duration(cfg.RequestTokenTTL) * time.Minute
	nonces := oauth.NewRedisNonceCache(rdb, tokenTTL)
	engine := oauth.NewEngine(consumers, tokens, nonces, nil, tokenTTL)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users), cfg.JWTSecret)
	router.RegisterConsumers(e, handler.NewConsumerHandler(users, consumers, ctl, caps), cfg.JWTSecret)
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	router.RegisterOAuth(e, handler.NewOAuthHandler(users, engine), cfg.JWTSecret, limit)

	// Background audit worker: drains the consumer.audit queue into the
	// local audit log. Runs its own reconnect loop.
	go func() {
		if err := queue.StartAuditConsumer(); err != nil {
			log.Printf("audit consumer stopped: %v", err)
		}
	}()

	// Periodic sweeper for request tokens that expired without ever
	// being exchanged. Reads enforce expiry on their own; this only
	// keeps the table from growing unbounded.
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for range t.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := tokens.DeleteExpired(ctx, time.Now().UTC()); err != nil {
				log.Printf("token sweeper: %v", err)
			} else if n > 0 {
				log.Printf("token sweeper: removed %d expired request tokens", n)
			}
			cancel()
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err)
	}
}
