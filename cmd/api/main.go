package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/auth"
	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/comments"
	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/config"
	"github.com/tommygebru/kiekky-engagement/internal/events"
	"github.com/tommygebru/kiekky-engagement/internal/friends"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
	"github.com/tommygebru/kiekky-engagement/internal/posts"
	"github.com/tommygebru/kiekky-engagement/internal/user"
	"github.com/tommygebru/kiekky-engagement/pkg/database"
	"github.com/tommygebru/kiekky-engagement/pkg/logger"
)

func main() {
	// 1. Load environment
	envErr := godotenv.Load()

	// 2. Load configuration
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger setup failed:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if envErr != nil {
		log.Info("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}
	log.Info("starting engagement sync",
		zap.String("environment", cfg.Environment),
		zap.String("gateway_mode", cfg.GatewayMode),
		zap.String("cache_store", cfg.CacheStore),
	)

	// 3. Gateway
	var gw gateway.Gateway
	switch cfg.GatewayMode {
	case "memory":
		gw = gateway.NewMemoryGateway()
		log.Warn("using the in-memory gateway; data is lost on restart")
	default:
		client := gateway.NewGraphQLClient(cfg.GatewayURL, cfg.GatewayTimeout, log.Named("gateway"))
		log.Info("gateway configured", zap.Stringer("gateway", client))
		gw = client
	}

	// 4. Query cache
	store, closeStore, err := newStore(cfg, log)
	if err != nil {
		log.Fatal("cache store setup failed", zap.Error(err))
	}
	defer closeStore.Close()
	queries := cache.NewClient(store, cfg.CacheTTL, log.Named("cache"))

	// 5. Event hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := events.NewHub(log.Named("events"))
	go hub.Run(hubCtx)
	queries.OnInvalidate(hub.QueryInvalidated)

	// 6. Auth
	verifier := auth.NewVerifier(&auth.Config{JWTSecret: cfg.JWTSecret})
	authMiddleware := auth.NewMiddleware(verifier)

	// 7. Reconcilers
	postsService := posts.NewService(gw, queries, hub, cfg.GatewayTimeout, log.Named("posts"))
	commentsService := comments.NewService(gw, queries, hub, cfg.GatewayTimeout, log.Named("comments"))
	friendsService := friends.NewService(gw, queries, log.Named("friends"))
	userService := user.NewService(gw, queries, log.Named("user"))

	hub.OnOffline(func(userID string) {
		postsService.Evict(userID)
		commentsService.Evict(userID)
	})
	// viewers who never open a websocket are only dropped by the sweep
	go sweepIdle(hubCtx, cfg.StateIdleTTL, log.Named("sweep"), map[string]idleEvicter{
		"posts":    postsService,
		"comments": commentsService,
	})

	// 8. Setup routes
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheck(hub)).Methods("GET")
	router.HandleFunc("/api", apiInfo).Methods("GET")

	posts.RegisterRoutes(router, posts.NewHandler(postsService), authMiddleware.Authenticate)
	comments.RegisterRoutes(router, comments.NewHandler(commentsService), authMiddleware.Authenticate)
	friends.RegisterRoutes(router, friends.NewHandler(friendsService), authMiddleware.Authenticate)
	user.RegisterRoutes(router, user.NewHandler(userService), authMiddleware.Authenticate)
	checkOrigin := func(r *http.Request) bool {
		return originAllowed(cfg, r.Header.Get("Origin"))
	}
	events.RegisterRoutes(router, events.NewHandler(hub, cfg.WSSendBuffer, checkOrigin, log.Named("ws")), authMiddleware.Authenticate)

	router.Use(loggingMiddleware(log.Named("http")))

	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return originAllowed(cfg, origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "Origin"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	})

	// 9. Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	// let background toggles settle so their outcome reaches the gateway
	if err := postsService.Drain(ctx); err != nil {
		log.Warn("post toggles still in flight", zap.Error(err))
	}
	if err := commentsService.Drain(ctx); err != nil {
		log.Warn("comment likes still in flight", zap.Error(err))
	}
	stopHub()
	log.Info("server stopped")
}

// newStore opens the configured cache store. The returned closer releases its connection.
func newStore(cfg *config.Config, log *zap.Logger) (cache.Store, io.Closer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.CacheStore {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to redis")
		// keep entries around long enough to serve stale data while refetching
		return cache.NewRedisStore(client, "engagement:", 10*cfg.CacheTTL), client, nil

	case "postgres":
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := cache.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("connected to postgres")
		return store, db, nil

	default:
		return cache.NewMemoryStore(), io.NopCloser(nil), nil
	}
}

type idleEvicter interface {
	EvictIdle(cutoff time.Time) int
}

// sweepIdle evicts reconciler state of viewers idle for longer than idle
func sweepIdle(ctx context.Context, idle time.Duration, log *zap.Logger, services map[string]idleEvicter) {
	every := idle / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for name, svc := range services {
				if n := svc.EvictIdle(now.Add(-idle)); n > 0 {
					log.Debug("evicted idle viewers", zap.String("service", name), zap.Int("viewers", n))
				}
			}
		}
	}
}

// originAllowed accepts every origin outside production, and the configured
// ALLOWED_ORIGINS in production
func originAllowed(cfg *config.Config, origin string) bool {
	if cfg.Environment != "production" || origin == "" {
		return true
	}
	for _, allowed := range cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func healthCheck(hub *events.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		common.JSON(w, http.StatusOK, map[string]interface{}{
			"status":       "healthy",
			"service":      "engagement-sync",
			"online_users": hub.OnlineUsers(),
		})
	}
}

func apiInfo(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Engagement Sync API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"posts":           "/api/v1/posts/*",
			"feed":            "/api/v1/feed",
			"users":           "/api/v1/users/*",
			"friend_requests": "/api/v1/friend-requests",
			"comments":        "/api/v1/comments/*",
			"events":          "/ws",
		},
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade through the logging middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}
