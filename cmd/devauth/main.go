// Command devauth is a development auth backend that implements the REST
// contract the session agent talks to.
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
	"github.com/impala/hetero/backend/go-services/internal/config"
	"github.com/impala/hetero/backend/go-services/internal/database"
	"github.com/impala/hetero/backend/go-services/internal/sessions"
	"github.com/impala/hetero/backend/go-services/internal/users"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/impala/hetero/backend/go-services/pkg/metrics"
	"github.com/impala/hetero/backend/go-services/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWT.Secret == "" {
		logger.Fatalf("JWT_SECRET is required")
	}
	logger.Infof("config loaded: mongo=%v redis=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", cfg.RedisAddr(), err)
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
			logger.Infof("connected to Redis: %s", cfg.RedisAddr())
		}
	}

	// sessions and blacklist: Redis when reachable, memory otherwise
	var (
		srepo     sessions.Repository = sessions.NewMemoryRepository()
		blacklist sessions.Blacklist  = sessions.NewMemoryBlacklist()
	)
	if rdb != nil {
		srepo = sessions.NewRedisRepository(rdb, "session:")
		blacklist = sessions.NewRedisBlacklist(rdb)
	}

	// users: Mongo when configured, memory otherwise
	var urepo users.UserRepository = users.NewMemoryUserRepository()
	mongoOK := cfg.MongoDB.URI == ""
	if cfg.MongoDB.URI != "" {
		client, err := database.Dial(ctx, cfg.MongoDB)
		if err != nil {
			logger.Warnf("using in-memory users: %v", err)
		} else {
			defer func() { _ = client.Disconnect(context.Background()) }()
			mrepo := users.NewMongoUserRepository(client.Database(cfg.MongoDB.Database).Collection("users"))
			if err := mrepo.EnsureIndexes(ctx); err != nil {
				logger.Warnf("failed to create user indexes: %v", err)
			}
			urepo = mrepo
			mongoOK = true
		}
	}

	userSvc := users.NewService(urepo)
	sessionsSvc := sessions.NewService(srepo, cfg.JWT.RefreshTokenTTL)

	if cfg.Agent.Email != "" && cfg.Agent.Password != "" {
		_, err := userSvc.Register(ctx, cfg.Agent.Email, "Agent", cfg.Agent.Password, "admin")
		switch {
		case errors.Is(err, users.ErrEmailTaken):
		case err != nil:
			logger.Warnf("failed to seed user %s: %v", cfg.Agent.Email, err)
		default:
			logger.Infof("seeded user %s", cfg.Agent.Email)
		}
	}

	var refreshLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			refreshLimit = middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)
		} else {
			refreshLimit = middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(cors(), gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := gin.H{"users": mongoOK, "redis": rdb != nil || cfg.Redis.Host == ""}
		uptime := time.Since(startTime).String()
		if !mongoOK {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
	})

	handlers.NewAuthHandler(cfg, userSvc, sessionsSvc, blacklist).Register(r.Group("/"), refreshLimit)
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	port := os.Getenv("DEVAUTH_PORT")
	if port == "" {
		port = "5002"
	}
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, port)
	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout}
	go func() {
		logger.Infof("starting auth backend on %s", addr)
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
