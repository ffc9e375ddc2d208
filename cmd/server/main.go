package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sociable/messenger/internal/api"
	"github.com/sociable/messenger/internal/auth"
	"github.com/sociable/messenger/internal/messaging"
	"github.com/sociable/messenger/internal/metrics"
	"github.com/sociable/messenger/internal/ratelimit"
	"github.com/sociable/messenger/internal/registry"
	"github.com/sociable/messenger/internal/router"
	"github.com/sociable/messenger/internal/store"
	"github.com/sociable/messenger/internal/user"
	"github.com/sociable/messenger/internal/ws"
)

func main() {
	listenAddr := ":3000"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	config := ws.DefaultServerConfig()
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	// --- PostgreSQL ---
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	msgStore := store.NewStore(db)
	userStore := user.NewStore(db)

	// --- Redis (optional, backs the message rate limiter) ---
	var (
		rdb     *redis.Client
		limiter router.Limiter
	)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		limiter = ratelimit.MessageLimiter{L: ratelimit.NewLimiter(rdb)}
	}

	// --- NATS (optional, bridges envelopes across instances) ---
	var (
		natsClient *messaging.NATSClient
		bridge     router.Bridge
	)
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		bridge = natsClient
	}

	log.Printf("messenger relay starting")
	log.Printf("  listen_addr:     %s", listenAddr)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  rate_limiting:   %v", limiter != nil)
	log.Printf("  nats_bridge:     %v", bridge != nil)

	reg := registry.New()

	server := ws.NewServer(config, func(conn *ws.Connection) ws.SessionHandler {
		return router.New(conn, reg, msgStore, limiter, bridge)
	})
	ws.StartHeartbeat(server, ws.DefaultHeartbeatConfig())

	tokens := auth.NewTokenManager(jwtSecret, "messenger")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleUpgrade)
	mux.HandleFunc("/health", server.HandleHealth)
	mux.Handle("/metrics", metrics.Handler())
	api.New(userStore, msgStore, tokens).Register(mux)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		server.Shutdown()
		if natsClient != nil {
			natsClient.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
