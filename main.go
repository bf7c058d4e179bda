// Command agent keeps an authenticated session with the Impala backend alive
// and exposes it to local tools over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/impala/hetero/backend/go-services/handlers"
	"github.com/impala/hetero/backend/go-services/internal/auth"
	"github.com/impala/hetero/backend/go-services/internal/config"
	"github.com/impala/hetero/backend/go-services/internal/database"
	"github.com/impala/hetero/backend/go-services/internal/tokenstore"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

// openRepository returns the persistent storage selected by STORAGE_DRIVER
// and a cleanup function.
func openRepository(ctx context.Context, cfg *config.Config) (tokenstore.Repository, func(), error) {
	switch cfg.Storage.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr(), err)
		}
		return tokenstore.NewRedisRepository(rdb, cfg.Storage.Prefix), func() { _ = rdb.Close() }, nil
	case "mongo":
		client, err := database.Dial(ctx, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		col := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
		return tokenstore.NewMongoRepository(col, cfg.Storage.Prefix), func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		return tokenstore.NewMemoryRepository(), func() {}, nil
	}
}

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: api=%s storage=%s", cfg.API.BaseURL, cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open token storage: %v", err)
	}
	defer closeRepo()

	var enc tokenstore.Encoder = tokenstore.IdentityEncoder{}
	if cfg.Storage.EncryptionKey != "" {
		seal, err := tokenstore.NewSealEncoder(cfg.Storage.EncryptionKey)
		if err != nil {
			logger.Fatalf("invalid STORAGE_ENCRYPTION_KEY: %v", err)
		}
		enc = seal
	}
	store := tokenstore.New(repo, enc, tokenstore.WithExpiryThreshold(cfg.Session.ExpiryThreshold))

	notifier := auth.NewNotifier()
	coord := auth.NewCoordinator(cfg.API.BaseURL, store,
		auth.WithRefreshTimeout(cfg.API.RefreshTimeout),
		auth.WithMinRefreshInterval(cfg.Session.RefreshMinInterval),
	)
	client := auth.NewClient(cfg.API.BaseURL, store, coord, notifier,
		auth.WithTimeout(cfg.API.Timeout),
		auth.WithMaxNetworkRetries(cfg.Session.MaxNetworkRetries),
		auth.WithLogoutDelay(cfg.Session.LogoutDelay),
	)
	svc := auth.NewService(client, coord, store,
		auth.WithResetURL(cfg.API.ResetURL),
		auth.WithLogoutTimeout(cfg.API.LogoutTimeout),
	)
	loop := auth.NewSupervisor(ctx, notifier, func() *auth.Maintainer {
		return auth.NewMaintainer(store, coord, notifier,
			auth.WithInterval(cfg.Session.MaintenanceInterval),
			auth.WithMaxSessionDuration(cfg.Session.MaxDuration),
			auth.WithMaxRefreshFailures(cfg.Session.MaxRefreshFailures),
		)
	})

	notifier.Subscribe(auth.SignalSessionExpired, func(s auth.Signal) {
		logger.Warnf("session expired")
	})
	notifier.OnForceLogout(func(r auth.Reason) {
		logger.Warnf("logged out (%s); sign in again at %s", r, auth.LoginURL(cfg.API.LoginURL, r))
	})

	if !svc.IsAuthenticated(ctx) && cfg.Agent.Email != "" && cfg.Agent.Password != "" {
		if _, err := svc.Login(ctx, cfg.Agent.Email, cfg.Agent.Password); err != nil {
			logger.Warnf("auto login as %s failed: %v", cfg.Agent.Email, err)
		}
	}
	loop.Start()
	defer loop.Stop()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		authed := svc.IsAuthenticated(c.Request.Context())
		body := gin.H{"authenticated": authed, "uptime": time.Since(startTime).String()}
		if !authed {
			body["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		c.JSON(http.StatusOK, body)
	})

	handlers.NewSessionHandler(svc, client, loop).Register(r.Group("/"))

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout}
	go func() {
		logger.Infof("starting session agent on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
