package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"engagement/internal/config"
	"engagement/internal/detector"
	"engagement/internal/handler"
	"engagement/internal/httpmiddleware"
	"engagement/internal/logger"
	"engagement/internal/metrics"
	"engagement/internal/queue"
	"engagement/internal/roster"
	"engagement/internal/session"
	"engagement/internal/store"
	"engagement/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	defer func() { _ = log.Sync() }()

	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Init()

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		q           queue.Queue
		redisClient *store.Redis
	)
	switch cfg.QueueBackend {
	case "redis":
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable, events will be dropped until it is", zap.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	default:
		mem := queue.NewInMemory(64)
		messages, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		go worker.New(log.Named("worker"), cfg.ReportLocation, cfg.ReportDir).Run(ctx, messages)
		q = mem
	}
	log.Info("event queue ready", zap.String("backend", cfg.QueueBackend))

	newSampler, err := samplerFactory(ctx, cfg, log)
	if err != nil {
		return err
	}

	reg := roster.NewRegistry()
	sessions := session.NewManager(reg, session.Options{
		ClockInterval:    cfg.Session.ClockInterval,
		SampleInterval:   cfg.Session.SampleInterval,
		AlertWindow:      cfg.Session.AlertWindow,
		InitialAttention: cfg.Session.InitialAttention,
		Logger:           log.Named("session"),
	}, newSampler, q)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.Middleware())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", metrics.Handler())

	deps := handler.Deps{
		Roster:       reg,
		Sessions:     sessions,
		QueueBackend: cfg.QueueBackend,
		Location:     cfg.ReportLocation,
		Logger:       log.Named("http"),
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	handler.New(deps).Register(r)

	// no write timeout: the session stream stays open for the whole session
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")
	sessions.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

func samplerFactory(ctx context.Context, cfg config.App, log *zap.Logger) (func() session.AttentionSampler, error) {
	switch cfg.Sampler {
	case "", "random":
		return func() session.AttentionSampler { return session.NewRandomWalkSampler(0) }, nil
	case "detector":
		client := detector.New(cfg.DetectorURL, cfg.DetectorSkip)
		if !cfg.DetectorSkip {
			st, err := client.Health(ctx)
			if err != nil {
				log.Warn("detector service not ready, rounds will be skipped until it is", zap.Error(err))
			} else {
				log.Info("detector service connected",
					zap.String("url", cfg.DetectorURL),
					zap.Int("cameras", st.Cameras))
			}
		}
		return func() session.AttentionSampler { return session.NewDetectorSampler(client) }, nil
	default:
		return nil, errors.New("unknown sampler " + cfg.Sampler)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return cors.New(c)
}
