// Command chatserver runs the messenger backend: the WebSocket gateway,
// the Redis/NATS document store, the optional PostgreSQL reporting
// mirror, and the Prometheus metrics endpoint.
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

	"github.com/neon/messenger/internal/gateway"
	"github.com/neon/messenger/internal/group"
	"github.com/neon/messenger/internal/identity/local"
	"github.com/neon/messenger/internal/metrics"
	"github.com/neon/messenger/internal/mirror"
	"github.com/neon/messenger/internal/moderation"
	"github.com/neon/messenger/internal/presence"
	"github.com/neon/messenger/internal/principal"
	"github.com/neon/messenger/internal/ratelimit"
	"github.com/neon/messenger/internal/store"
	"github.com/neon/messenger/internal/store/redisstore"
	"github.com/neon/messenger/internal/support"
)

func main() {
	config := gateway.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
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

	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	natsURL := "nats://localhost:4222"
	if v := os.Getenv("NATS_URL"); v != "" {
		natsURL = v
	}
	metricsAddr := ":9091"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "chat-1"
	}

	// --- Document store ---
	// STORE_ENGINE=memory runs everything in-process for development;
	// the default is the Redis/NATS engine.
	var (
		docs   store.Store
		engine *redisstore.Engine
	)
	if os.Getenv("STORE_ENGINE") == "memory" {
		log.Printf("using in-memory store engine (development mode)")
		docs = store.NewMemory()
	} else {
		var err error
		engine, err = redisstore.Connect(redisAddr, natsURL, serverName)
		if err != nil {
			log.Fatalf("failed to connect store engine: %v", err)
		}
		docs = engine
	}

	// --- PostgreSQL mirror (optional) ---
	var mr *mirror.Mirror
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		var err error
		mr, err = mirror.Open(dsn)
		if err != nil {
			log.Fatalf("failed to connect mirror database: %v", err)
		}
		if err := mr.Migrate(); err != nil {
			log.Fatalf("failed to migrate mirror schema: %v", err)
		}
	} else {
		log.Printf("DATABASE_URL not set, reporting mirror disabled")
	}

	// --- Application services ---
	dir := principal.NewDirectory(docs)
	groups := group.NewRegistry(docs)
	desk := support.NewDesk(docs)
	tracker := presence.NewTracker(docs, mr)
	panel := moderation.NewPanel(docs, dir, groups, desk, mr)
	provider := local.NewProvider(docs, nil)

	// Throttling needs raw Redis; the in-memory engine runs without it.
	var limiter *ratelimit.Limiter
	if engine != nil {
		limiter = ratelimit.NewLimiter(engine.Client())
	}

	app := &gateway.App{
		Store:     docs,
		Dir:       dir,
		Groups:    groups,
		Desk:      desk,
		Panel:     panel,
		Tracker:   tracker,
		Mirror:    mr,
		Provider:  provider,
		Limiter:   limiter,
		AdminUser: os.Getenv("ADMIN_USERNAME"),
		AdminPass: os.Getenv("ADMIN_PASSWORD"),
	}
	if app.AdminUser == "" || app.AdminPass == "" {
		log.Printf("ADMIN_USERNAME/ADMIN_PASSWORD not set, admin sign-in disabled")
	}

	dispatcher := gateway.NewMessageDispatcher()
	handlers := gateway.NewHandlers(app, dispatcher)

	server := gateway.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	handlers.SetServer(server)
	server.SetOnDisconnect(handlers.OnDisconnect)

	log.Printf("messenger server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  nats_url:        %s", natsURL)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  server_name:     %s", serverName)

	// --- Metrics endpoint ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		tracker.Shutdown(ctx)
		cancel()

		if engine != nil {
			if err := engine.Close(); err != nil {
				log.Printf("store engine close error: %v", err)
			}
		}
		if mr != nil {
			if err := mr.Close(); err != nil {
				log.Printf("mirror close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
